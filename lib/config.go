package lib

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/TecharoHQ/tracecaptcha/data"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/TecharoHQ/tracecaptcha/lib/policy"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/store"
	"github.com/TecharoHQ/tracecaptcha/lib/store/memory"
)

var (
	ErrNoPolicy     = errors.New("lib: no policy")
	ErrNoShapes     = errors.New("lib: no shapes")
	ErrUnknownStore = errors.New("lib: unknown store backend")
)

type Options struct {
	Policy *policy.ParsedConfig
	Shapes *shape.Catalog
	// Store keeps issued challenges. When nil, the backend named by the
	// policy is built.
	Store store.Interface
	// Clock overrides the wall clock of the challenge ledger.
	Clock  challenge.Clock
	Logger *slog.Logger

	CookieDynamicDomain bool
	CookieDomain        string
	CookieExpiration    time.Duration
	CookiePartitioned   bool
	CookieSecure        bool
	BasePrefix          string
	ED25519PrivateKey   ed25519.PrivateKey
	HS512Secret         []byte
}

// LoadPoliciesOrDefault parses the policy file fname, or the built-in policy
// when fname is empty.
func LoadPoliciesOrDefault(ctx context.Context, fname string) (*policy.ParsedConfig, error) {
	var fin io.ReadCloser
	var err error

	if fname != "" {
		fin, err = os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("can't parse policy file %s: %w", fname, err)
		}
	} else {
		fname = "(data)/policy.yaml"
		fin, err = data.Policy.Open("policy.yaml")
		if err != nil {
			return nil, fmt.Errorf("[unexpected] can't parse builtin policy file %s: %w", fname, err)
		}
	}

	defer func(fin io.ReadCloser) {
		err := fin.Close()
		if err != nil {
			slog.Error("failed to close policy file", "file", fname, "err", err)
		}
	}(fin)

	result, err := policy.ParseConfig(ctx, fin, fname)
	if err != nil {
		return nil, fmt.Errorf("can't parse policy file %s: %w", fname, err)
	}

	return result, nil
}

// LoadShapes loads the templates in dir, or the built-in ones when dir is
// empty, restricted to the shapes the policy allows.
func LoadShapes(dir string, pc *policy.ParsedConfig) (*shape.Catalog, error) {
	var (
		cat *shape.Catalog
		err error
	)

	if dir != "" {
		cat, err = shape.LoadDir(dir)
	} else {
		cat, err = shape.Builtin()
	}
	if err != nil {
		return nil, fmt.Errorf("can't load shapes: %w", err)
	}

	cat, err = cat.Subset(pc.Challenge.Shapes)
	if err != nil {
		return nil, fmt.Errorf("can't do final validation of the policy: %w", err)
	}

	return cat, nil
}

// BuildStore builds the store backend the policy names.
func BuildStore(ctx context.Context, pc *policy.ParsedConfig) (store.Interface, error) {
	if pc.Store == nil {
		return memory.New(), nil
	}

	fac, ok := store.Get(pc.Store.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownStore, pc.Store.Backend, store.Methods())
	}

	result, err := fac.Build(ctx, pc.Store.Parameters)
	if err != nil {
		return nil, fmt.Errorf("can't build %s store: %w", pc.Store.Backend, err)
	}

	return result, nil
}
