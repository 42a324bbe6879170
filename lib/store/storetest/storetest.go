// Package storetest contains the conformance tests every store backend must
// pass.
package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/store"
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				} else if err != nil {
					t.Error(err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Logf("want: %q", t.Name())
					t.Logf("got:  %q", string(val))
					t.Error("wrong value returned")
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted test to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("key %q does not exist, wanted ErrNotFound from Delete, got %v", t.Name(), err)
				}

				return nil
			},
		},
		{
			name: "overwrite",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("first"), 5*time.Minute); err != nil {
					return err
				}

				if err := s.Set(t.Context(), t.Name(), []byte("second"), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if string(val) != "second" {
					t.Errorf("wanted overwritten value %q, got %q", "second", val)
				}

				return s.Delete(t.Context(), t.Name())
			},
		},
		{
			name: "exclusive delete",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				const workers = 16
				var (
					wg       sync.WaitGroup
					wins     atomic.Int32
					notFound atomic.Int32
				)

				start := make(chan struct{})
				for range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						switch err := s.Delete(t.Context(), t.Name()); {
						case err == nil:
							wins.Add(1)
						case errors.Is(err, store.ErrNotFound):
							notFound.Add(1)
						default:
							t.Errorf("unexpected Delete error: %v", err)
						}
					}()
				}
				close(start)
				wg.Wait()

				if wins.Load() != 1 {
					t.Errorf("wanted exactly one successful delete, got %d", wins.Load())
				}

				if notFound.Load() != workers-1 {
					t.Errorf("wanted %d ErrNotFound results, got %d", workers-1, notFound.Load())
				}

				return nil
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				//nosleep:bypass backends use the wall clock for expiry.
				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Delete(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("deleting an expired key: wanted ErrNotFound, got %v", err)
				}

				if _, err := store.Cleanup(t.Context(), s); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to stay gone after cleanup", t.Name())
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
