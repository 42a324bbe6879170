// Package store is the ephemeral key/value storage challenges live in.
// Backends register themselves by name; see the memory, bbolt and valkey
// subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the value
	// for a given key.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface defines the calls the challenge ledger makes against a local or
// remote datastore.
type Interface interface {
	// Delete removes a value from the store by key. Deleting a key that does
	// not exist or has expired returns ErrNotFound. When several callers
	// delete the same key concurrently, exactly one of them succeeds.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming that value exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires according to its expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
}

// Cleaner is implemented by backends that need help evicting expired
// values. Backends with native expiry do not implement it.
type Cleaner interface {
	// Cleanup removes every expired value and reports how many it removed.
	Cleanup(ctx context.Context) (int, error)
}

// Cleanup runs s.Cleanup if s implements Cleaner. It returns zero otherwise.
func Cleanup(ctx context.Context, s Interface) (int, error) {
	if c, ok := s.(Cleaner); ok {
		return c.Cleanup(ctx)
	}

	return 0, nil
}

func z[T any]() T { return *new(T) }

// JSON stores values of type T as JSON under an optional key prefix.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) key(key string) string {
	if j.Prefix != "" {
		return j.Prefix + key
	}

	return key
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.key(key))
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	if err := j.Underlying.Set(ctx, j.key(key), data, expiry); err != nil {
		return err
	}

	return nil
}

// Cleanup forwards to the underlying store.
func (j *JSON[T]) Cleanup(ctx context.Context) (int, error) {
	return Cleanup(ctx, j.Underlying)
}
