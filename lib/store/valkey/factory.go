package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/TecharoHQ/tracecaptcha/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

const (
	// DefaultNamespace prefixes every key when Config.Namespace is empty.
	DefaultNamespace = "tracecaptcha:"

	defaultDialTimeout = 5 * time.Second
)

var (
	ErrNoURL          = errors.New("valkey.Config: no URL defined")
	ErrBadURL         = errors.New("valkey.Config: URL is invalid")
	ErrBadNamespace   = errors.New("valkey.Config: namespace must not contain whitespace")
	ErrBadDialTimeout = errors.New("valkey.Config: dial_timeout is not a positive duration")
)

func init() {
	store.Register("valkey", Factory{})
}

// Factory builds valkey-backed stores from a JSON Config.
type Factory struct{}

// Build connects to the server and checks it answers a PING within the dial
// timeout. The connection pool is closed when ctx is done.
func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	opts, err := config.options()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	result := &Store{
		rdb:       valkey.NewClient(opts),
		namespace: config.namespace(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := result.rdb.Ping(pingCtx).Err(); err != nil {
		result.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	context.AfterFunc(ctx, func() {
		result.Close()
	})

	return result, nil
}

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

// Config is the valkey storage backend configuration.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string `json:"url"`

	// Namespace is prepended to every key. Defaults to DefaultNamespace.
	Namespace string `json:"namespace,omitempty"`

	// DialTimeout bounds connecting and the startup PING, as a Go duration
	// string. Defaults to five seconds.
	DialTimeout string `json:"dial_timeout,omitempty"`
}

func (c Config) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}

	return c.Namespace
}

func (c Config) options() (*valkey.Options, error) {
	opts, err := valkey.ParseURL(c.URL)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = defaultDialTimeout
	if c.DialTimeout != "" {
		d, err := time.ParseDuration(c.DialTimeout)
		if err != nil {
			return nil, err
		}
		opts.DialTimeout = d
	}

	return opts, nil
}

func (c Config) Valid() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrNoURL)
	} else if _, err := valkey.ParseURL(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrBadURL, err))
	}

	if strings.ContainsFunc(c.Namespace, unicode.IsSpace) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadNamespace, c.Namespace))
	}

	if c.DialTimeout != "" {
		if d, err := time.ParseDuration(c.DialTimeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrBadDialTimeout, c.DialTimeout))
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
