package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// Store keeps challenges in valkey (or any Redis-compatible server) under a
// key namespace, so several deployments can share one server. Expiry is
// handled by the server, so Store does not implement store.Cleaner.
type Store struct {
	rdb       *valkey.Client
	namespace string
}

func (s *Store) key(k string) string {
	return s.namespace + k
}

// Delete removes key with a single DEL. Concurrent verifiers race on the
// server and only one of them sees a deleted count of one, which is what
// makes a challenge single use across instances.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("valkey: can't delete %q: %w", key, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, valkey.Nil):
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("valkey: can't fetch %q: %w", key, err)
	}

	return result, nil
}

// Set stores value with a server-side TTL. A non-positive expiry would make
// the key permanent, which no challenge may be.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if expiry <= 0 {
		return fmt.Errorf("%w: expiry for %q must be positive, got %s", store.ErrBadConfig, key, expiry)
	}

	if err := s.rdb.Set(ctx, s.key(key), value, expiry).Err(); err != nil {
		return fmt.Errorf("valkey: can't set %q: %w", key, err)
	}

	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
