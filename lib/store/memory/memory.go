// Package memory is an in-process store backend. It does not share state
// between tracecaptcha instances.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TecharoHQ/tracecaptcha/decaymap"
	"github.com/TecharoHQ/tracecaptcha/lib/store"
)

type factory struct{}

func (factory) Build(_ context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	store *decaymap.Impl[string, []byte]
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.store.Set(key, value, expiry)
	return nil
}

func (i *impl) Cleanup(context.Context) (int, error) {
	return i.store.Cleanup(), nil
}

// New creates an empty in-memory store. Expired values are dropped lazily
// on access and in bulk by Cleanup.
func New() store.Interface {
	return &impl{
		store: decaymap.New[string, []byte](),
	}
}
