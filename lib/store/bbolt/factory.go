package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath     = errors.New("bbolt: path is missing from config")
	ErrCantWriteToPath = errors.New("bbolt: can't write to path")
)

func init() {
	store.Register("bbolt", Factory{})
}

// Factory builds new instances of the bbolt storage backend according to
// configuration passed via a json.RawMessage.
type Factory struct{}

// Build parses and validates the bbolt storage backend Config and opens the
// database. The database is closed when ctx is done.
func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	bdb, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: config.openTimeout()})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	result := &Store{
		bdb: bdb,
		now: time.Now,
	}

	context.AfterFunc(ctx, func() {
		result.Close()
	})

	return result, nil
}

// Valid parses and validates the bbolt store Config or returns
// an error.
func (Factory) Valid(data json.RawMessage) error {
	_, err := parseConfig(data)
	return err
}

func parseConfig(data json.RawMessage) (*Config, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return &config, nil
}

// Config is the bbolt storage backend configuration.
type Config struct {
	// Path is the filesystem path of the database. The folder must be writable.
	Path string `json:"path"`

	// OpenTimeout is how long to wait for the file lock, as a Go duration
	// string. Defaults to one second.
	OpenTimeout string `json:"open_timeout,omitempty"`
}

func (c Config) openTimeout() time.Duration {
	if d, err := time.ParseDuration(c.OpenTimeout); err == nil && d > 0 {
		return d
	}

	return time.Second
}

// Valid validates the configuration including checking if its containing folder is writable.
func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else {
		dir := filepath.Dir(c.Path)
		if err := os.WriteFile(filepath.Join(dir, ".test-file"), []byte(""), 0600); err != nil {
			errs = append(errs, ErrCantWriteToPath)
		}
		os.Remove(filepath.Join(dir, ".test-file"))
	}

	if c.OpenTimeout != "" {
		if _, err := time.ParseDuration(c.OpenTimeout); err != nil {
			errs = append(errs, fmt.Errorf("open_timeout: %w", err))
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
