package challenge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge/challengetest"
	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/TecharoHQ/tracecaptcha/lib/store"
	"github.com/TecharoHQ/tracecaptcha/lib/store/memory"
	"github.com/google/uuid"
)

func defaultConfig() config.Challenge {
	return config.Challenge{
		TimeToLive:  2 * time.Minute,
		MaxRotation: 180,
		MinScale:    0.8,
		MaxScale:    1.2,
	}
}

func TestIssue(t *testing.T) {
	l, clock := challengetest.New(t, defaultConfig())
	tmpl := challengetest.Template(t, "heart")

	seen := map[string]bool{}
	for range 32 {
		chall := challengetest.Issue(t, l, tmpl)

		id, err := uuid.Parse(chall.ID)
		if err != nil {
			t.Fatalf("challenge id %q is not a UUID: %v", chall.ID, err)
		}

		if id.Version() != 4 {
			t.Errorf("wanted a version 4 UUID, got version %d", id.Version())
		}

		if seen[chall.ID] {
			t.Fatalf("challenge id %s issued twice", chall.ID)
		}
		seen[chall.ID] = true

		if chall.Shape != "heart" || chall.ShapeHash != tmpl.Hash() {
			t.Errorf("challenge bound to wrong shape: %s %s", chall.Shape, chall.ShapeHash)
		}

		if !chall.IssuedAt.Equal(clock.Now()) {
			t.Errorf("wanted issue time %s, got %s", clock.Now(), chall.IssuedAt)
		}

		if got := chall.ExpiresAt.Sub(chall.IssuedAt); got != 2*time.Minute {
			t.Errorf("wanted a two minute lifetime, got %s", got)
		}

		if chall.DisplayRotation < -180 || chall.DisplayRotation > 180 {
			t.Errorf("display rotation %f out of range", chall.DisplayRotation)
		}

		if chall.DisplayScale < 0.8 || chall.DisplayScale > 1.2 {
			t.Errorf("display scale %f out of range", chall.DisplayScale)
		}

		if chall.Used {
			t.Error("fresh challenge is marked used")
		}
	}
}

func TestIssueNoShape(t *testing.T) {
	l, _ := challengetest.New(t, defaultConfig())

	if _, err := l.Issue(t.Context(), nil); !errors.Is(err, challenge.ErrNoShape) {
		t.Errorf("wanted ErrNoShape, got %v", err)
	}
}

func TestNewLedgerDefaults(t *testing.T) {
	l := challenge.NewLedger(memory.New(), config.Challenge{})

	if l.TimeToLive() != 2*time.Minute {
		t.Errorf("wanted default ttl, got %s", l.TimeToLive())
	}

	chall, err := l.Issue(t.Context(), challengetest.Template(t, "diamond"))
	if err != nil {
		t.Fatal(err)
	}

	if chall.DisplayRotation != 0 || chall.DisplayScale != 1 {
		t.Errorf("wanted neutral display hints, got %f %f", chall.DisplayRotation, chall.DisplayScale)
	}
}

func TestLifecycle(t *testing.T) {
	tmpl := challengetest.Template(t, "leaf")

	for _, tt := range []struct {
		name string
		act  func(t *testing.T, l *challenge.Ledger, clock *challengetest.Clock, id string)
		err  error
	}{
		{
			name: "valid",
			act:  func(*testing.T, *challenge.Ledger, *challengetest.Clock, string) {},
		},
		{
			name: "just before expiry",
			act: func(_ *testing.T, _ *challenge.Ledger, clock *challengetest.Clock, _ string) {
				clock.Advance(2*time.Minute - time.Millisecond)
			},
		},
		{
			name: "at expiry",
			act: func(_ *testing.T, _ *challenge.Ledger, clock *challengetest.Clock, _ string) {
				clock.Advance(2 * time.Minute)
			},
			err: challenge.ErrExpired,
		},
		{
			name: "consumed",
			act: func(t *testing.T, l *challenge.Ledger, _ *challengetest.Clock, id string) {
				if _, err := l.Consume(t.Context(), id); err != nil {
					t.Fatal(err)
				}
			},
			err: challenge.ErrNotFound,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			l, clock := challengetest.New(t, defaultConfig())
			chall := challengetest.Issue(t, l, tmpl)

			tt.act(t, l, clock, chall.ID)

			_, err := l.Get(t.Context(), chall.ID)
			if !errors.Is(err, tt.err) {
				t.Errorf("wanted %v, got %v", tt.err, err)
			}

			if got, want := l.IsValid(t.Context(), chall.ID), tt.err == nil; got != want {
				t.Errorf("IsValid: wanted %v, got %v", want, got)
			}

			if tt.err != nil && !challenge.Invalid(err) {
				t.Errorf("%v should count as an invalid challenge", err)
			}
		})
	}
}

func TestExpiredIsEvicted(t *testing.T) {
	l, clock := challengetest.New(t, defaultConfig())
	chall := challengetest.Issue(t, l, challengetest.Template(t, "heart"))

	clock.Advance(time.Hour)

	if _, err := l.Get(t.Context(), chall.ID); !errors.Is(err, challenge.ErrExpired) {
		t.Fatalf("wanted ErrExpired, got %v", err)
	}

	// The expired entry was evicted on discovery, so it is simply gone now.
	if _, err := l.Get(t.Context(), chall.ID); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("wanted ErrNotFound after eviction, got %v", err)
	}
}

func TestUnknownID(t *testing.T) {
	l, _ := challengetest.New(t, defaultConfig())

	if _, err := l.Get(t.Context(), uuid.NewString()); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("wanted ErrNotFound, got %v", err)
	}

	if _, err := l.Consume(t.Context(), uuid.NewString()); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("wanted ErrNotFound, got %v", err)
	}
}

func TestValidateShape(t *testing.T) {
	l, _ := challengetest.New(t, defaultConfig())
	heart := challengetest.Template(t, "heart")
	chall := challengetest.Issue(t, l, heart)

	if _, err := l.Validate(t.Context(), chall.ID, heart); err != nil {
		t.Errorf("matching shape: %v", err)
	}

	if _, err := l.Validate(t.Context(), chall.ID, challengetest.Template(t, "diamond")); !errors.Is(err, challenge.ErrShapeMismatch) {
		t.Errorf("wanted ErrShapeMismatch, got %v", err)
	}

	if _, err := l.Validate(t.Context(), chall.ID, nil); !errors.Is(err, challenge.ErrShapeMismatch) {
		t.Errorf("nil template: wanted ErrShapeMismatch, got %v", err)
	}
}

func TestConsumeReplay(t *testing.T) {
	l, _ := challengetest.New(t, defaultConfig())
	chall := challengetest.Issue(t, l, challengetest.Template(t, "triangle"))

	got, err := l.Consume(t.Context(), chall.ID)
	if err != nil {
		t.Fatal(err)
	}

	if !got.Used {
		t.Error("consumed challenge is not marked used")
	}

	if _, err := l.Consume(t.Context(), chall.ID); !errors.Is(err, challenge.ErrNotFound) {
		t.Errorf("second consume: wanted ErrNotFound, got %v", err)
	}
}

func TestConcurrentConsume(t *testing.T) {
	l, _ := challengetest.New(t, defaultConfig())
	chall := challengetest.Issue(t, l, challengetest.Template(t, "home"))

	const workers = 32
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)

	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			unlock := l.Lock(chall.ID)
			defer unlock()

			if !l.IsValid(t.Context(), chall.ID) {
				return
			}

			if _, err := l.Consume(t.Context(), chall.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wanted exactly one winner, got %d", wins.Load())
	}
}

func TestSweep(t *testing.T) {
	cfg := defaultConfig()
	cfg.TimeToLive = 20 * time.Millisecond
	l, _ := challengetest.New(t, cfg)
	tmpl := challengetest.Template(t, "heart")

	for range 3 {
		challengetest.Issue(t, l, tmpl)
	}

	//nosleep:bypass the memory store expires entries on the wall clock.
	time.Sleep(50 * time.Millisecond)

	n, err := l.Sweep(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if n != 3 {
		t.Errorf("wanted 3 entries swept, got %d", n)
	}
}

// sweepCounter records how many values the wrapped store's Cleanup evicted.
type sweepCounter struct {
	store.Interface
	evicted atomic.Int64
}

func (s *sweepCounter) Cleanup(ctx context.Context) (int, error) {
	n, err := store.Cleanup(ctx, s.Interface)
	s.evicted.Add(int64(n))
	return n, err
}

func TestRun(t *testing.T) {
	cfg := defaultConfig()
	cfg.TimeToLive = 10 * time.Millisecond

	st := &sweepCounter{Interface: memory.New()}
	l := challenge.NewLedger(st, cfg)
	challengetest.Issue(t, l, challengetest.Template(t, "heart"))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.evicted.Load() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("Run never swept the expired challenge")
		}
		//nosleep:bypass polling for the background sweeper.
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after its context was canceled")
	}

	if n := st.evicted.Load(); n != 1 {
		t.Errorf("wanted 1 challenge evicted, got %d", n)
	}
}
