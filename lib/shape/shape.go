// Package shape loads the catalogue of outlines users are asked to trace.
package shape

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/TecharoHQ/tracecaptcha/data"
	"github.com/TecharoHQ/tracecaptcha/internal"
	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
)

var (
	ErrNoName        = errors.New("shape: template must have a name")
	ErrTooFewPoints  = errors.New("shape: template must have at least two points")
	ErrNotFinite     = errors.New("shape: template contains a non-finite coordinate")
	ErrNoExtent      = errors.New("shape: template has no extent")
	ErrDuplicateName = errors.New("shape: template name is used more than once")
	ErrUnknownShape  = errors.New("shape: unknown shape")
	ErrEmptyCatalog  = errors.New("shape: no templates loaded")
)

// Template is the canonical outline of one shape, in a unit reference frame
// with y pointing down. Templates are read-only once loaded.
type Template struct {
	Name   string           `json:"name"`
	Title  string           `json:"title"`
	Points []geometry.Point `json:"points"`

	hash string
}

func (t *Template) Valid() error {
	var errs []error

	if t.Name == "" {
		errs = append(errs, ErrNoName)
	}

	if len(t.Points) < 2 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrTooFewPoints, len(t.Points)))
	}

	for i, p := range t.Points {
		if !p.Finite() {
			errs = append(errs, fmt.Errorf("%w: point %d", ErrNotFinite, i))
			break
		}
	}

	if len(t.Points) >= 2 {
		box := geometry.BoundingBox(t.Points)
		if box.Width() == 0 && box.Height() == 0 {
			errs = append(errs, ErrNoExtent)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("shape %q is not valid:\n%w", t.Name, errors.Join(errs...))
	}

	return nil
}

// Hash fingerprints the name and outline of the template. Two templates
// with the same hash are interchangeable for verification.
func (t *Template) Hash() string {
	if t.hash != "" {
		return t.hash
	}

	vals := make([]float64, 0, 2*len(t.Points))
	for _, p := range t.Points {
		vals = append(vals, p.X, p.Y)
	}

	return internal.FastHash(t.Name) + "-" + internal.FastHashFloats(vals...)
}

// Parse decodes and validates one JSON template.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}

	if err := t.Valid(); err != nil {
		return nil, err
	}

	t.hash = t.Hash()

	return &t, nil
}

// Catalog is an immutable, name-indexed set of templates.
type Catalog struct {
	templates map[string]*Template
	names     []string
}

// New builds a catalog from already validated templates.
func New(templates ...*Template) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]*Template, len(templates)),
	}

	for _, t := range templates {
		if _, ok := c.templates[t.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, t.Name)
		}

		if t.hash == "" {
			t.hash = t.Hash()
		}

		c.templates[t.Name] = t
		c.names = append(c.names, t.Name)
	}

	if len(c.names) == 0 {
		return nil, ErrEmptyCatalog
	}

	slices.Sort(c.names)

	return c, nil
}

// LoadFS reads every *.json file in dir of fsys as a template.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("shape: can't list %s: %w", dir, err)
	}

	var templates []*Template
	var errs []error

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		fname := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, fname)
		if err != nil {
			errs = append(errs, fmt.Errorf("can't read %s: %w", fname, err))
			continue
		}

		t, err := Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("can't parse %s: %w", fname, err))
			continue
		}

		templates = append(templates, t)
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	return New(templates...)
}

// LoadDir reads every *.json file in a directory on disk.
func LoadDir(dir string) (*Catalog, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// Builtin returns the catalog compiled into the binary.
func Builtin() (*Catalog, error) {
	return LoadFS(data.Shapes, "shapes")
}

// Get looks up a template by name.
func (c *Catalog) Get(name string) (*Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// Names returns the sorted template names.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

// Len is the number of templates.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Subset returns a catalog restricted to names. An empty list returns c.
func (c *Catalog) Subset(names []string) (*Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}

	templates := make([]*Template, 0, len(names))
	for _, name := range names {
		t, ok := c.templates[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownShape, name, strings.Join(c.names, ", "))
		}
		templates = append(templates, t)
	}

	return New(templates...)
}

// Random picks a template uniformly at random.
func (c *Catalog) Random() (*Template, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(c.names))))
	if err != nil {
		return nil, fmt.Errorf("shape: can't pick a template: %w", err)
	}

	return c.templates[c.names[n.Int64()]], nil
}
