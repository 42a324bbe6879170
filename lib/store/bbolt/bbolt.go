package bbolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrBucketDoesNotExist = errors.New("bbolt: bucket does not exist")
	ErrNotExists          = errors.New("bbolt: value does not exist in store")
)

var (
	dataKey   = []byte("data")
	expiryKey = []byte("expiry")
)

// Store implements store.Interface backed by bbolt[1].
//
// Every value gets its own top level bucket holding two keys:
//
// 1. data - The raw data, usually in JSON
// 2. expiry - The expiry time formatted as a time.RFC3339Nano timestamp string
//
// Cleanup can then walk the buckets and read only the expiry of each value.
//
// bbolt holds an exclusive file lock, so a database cannot be shared between
// tracecaptcha processes. Use the valkey backend for that.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB

	// now is swapped out in tests.
	now func() time.Time
}

func readExpiry(key []byte, bkt *bbolt.Bucket) (time.Time, error) {
	expiryStr := bkt.Get(expiryKey)
	if expiryStr == nil {
		return time.Time{}, fmt.Errorf("[unexpected] %w: %q (expiry is nil)", store.ErrNotFound, key)
	}

	expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
	if err != nil {
		return time.Time{}, fmt.Errorf("[unexpected] %w in bucket %q: %w", store.ErrCantDecode, key, err)
	}

	return expiry, nil
}

// Delete a key from the datastore. Missing and expired keys return
// store.ErrNotFound. The read-write transaction makes concurrent deletes of
// the same key exclusive.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(key))
		if bkt == nil {
			return fmt.Errorf("%w: %w: %q", store.ErrNotFound, ErrNotExists, key)
		}

		expiry, err := readExpiry([]byte(key), bkt)
		if err != nil {
			return err
		}

		// expired buckets are left for Cleanup
		if s.now().After(expiry) {
			return fmt.Errorf("%w: %q (expired)", store.ErrNotFound, key)
		}

		return tx.DeleteBucket([]byte(key))
	})
}

// Get a value from the datastore. Expired values are reported as missing and
// left for Cleanup.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		itemBucket := tx.Bucket([]byte(key))
		if itemBucket == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		expiry, err := readExpiry([]byte(key), itemBucket)
		if err != nil {
			return err
		}

		if s.now().After(expiry) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		dataStr := itemBucket.Get(dataKey)
		if dataStr == nil {
			return fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, key)
		}

		// bbolt memory is only valid inside the transaction
		result = append([]byte(nil), dataStr...)

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	expires := s.now().Add(expiry)

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		valueBkt, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, key)
		}

		if err := valueBkt.Put(expiryKey, []byte(expires.Format(time.RFC3339Nano))); err != nil {
			return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, key)
		}

		if err := valueBkt.Put(dataKey, value); err != nil {
			return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, key)
		}

		return nil
	})
}

// Cleanup deletes every expired value.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	now := s.now()
	var removed int

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		var expired [][]byte

		if err := tx.ForEach(func(key []byte, valueBkt *bbolt.Bucket) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			expiry, err := readExpiry(key, valueBkt)
			if errors.Is(err, store.ErrNotFound) {
				slog.Warn("while running cleanup, expiry is not set somehow, file a bug?", "key", string(key))
				return nil
			}
			if err != nil {
				return err
			}

			if now.After(expiry) {
				expired = append(expired, append([]byte(nil), key...))
			}

			return nil
		}); err != nil {
			return err
		}

		// buckets must not be deleted while ForEach walks them
		for _, key := range expired {
			if err := tx.DeleteBucket(key); err != nil {
				return err
			}
			removed++
		}

		return nil
	})

	if err != nil {
		return 0, err
	}

	return removed, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.bdb.Close()
}
