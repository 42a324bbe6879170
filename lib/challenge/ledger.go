package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/TecharoHQ/tracecaptcha"
	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/store"
	"github.com/google/uuid"
)

// KeyPrefix namespaces challenges inside a shared store.
const KeyPrefix = "challenge:"

// Clock tells the ledger what time it is.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used for expiry decisions.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the logger used by Run.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) { l.logger = lg }
}

// Ledger owns every issued challenge. Challenges live in the backing store
// until they are consumed or expire.
type Ledger struct {
	store  *store.JSON[Challenge]
	cfg    config.Challenge
	clock  Clock
	logger *slog.Logger
	locks  keyedMutex
}

// NewLedger creates a Ledger over st. Zero values in cfg fall back to the
// package defaults.
func NewLedger(st store.Interface, cfg config.Challenge, opts ...Option) *Ledger {
	if cfg.TimeToLive <= 0 {
		cfg.TimeToLive = tracecaptcha.DefaultChallengeTTL
	}

	if cfg.MinScale <= 0 {
		cfg.MinScale = 1
	}

	if cfg.MaxScale < cfg.MinScale {
		cfg.MaxScale = cfg.MinScale
	}

	l := &Ledger{
		store:  &store.JSON[Challenge]{Underlying: st, Prefix: KeyPrefix},
		cfg:    cfg,
		clock:  systemClock{},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// TimeToLive is how long issued challenges stay answerable.
func (l *Ledger) TimeToLive() time.Duration {
	return l.cfg.TimeToLive
}

// Issue creates and stores a fresh challenge for tmpl.
func (l *Ledger) Issue(ctx context.Context, tmpl *shape.Template) (*Challenge, error) {
	if tmpl == nil {
		return nil, ErrNoShape
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("challenge: can't generate id: %w", err)
	}

	now := l.clock.Now()
	chall := &Challenge{
		ID:              id.String(),
		Shape:           tmpl.Name,
		ShapeHash:       tmpl.Hash(),
		IssuedAt:        now,
		ExpiresAt:       now.Add(l.cfg.TimeToLive),
		DisplayRotation: uniform(-l.cfg.MaxRotation, l.cfg.MaxRotation),
		DisplayScale:    uniform(l.cfg.MinScale, l.cfg.MaxScale),
	}

	if err := l.store.Set(ctx, chall.ID, *chall, l.cfg.TimeToLive); err != nil {
		return nil, fmt.Errorf("challenge: can't store %s: %w", chall.ID, err)
	}

	issued.WithLabelValues(chall.Shape).Inc()

	return chall, nil
}

func uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}

	return lo + rand.Float64()*(hi-lo)
}

// Get returns the challenge for id if it can still be answered. Expired
// challenges found here are evicted.
func (l *Ledger) Get(ctx context.Context, id string) (*Challenge, error) {
	chall, err := l.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return nil, fmt.Errorf("challenge: can't load %s: %w", id, err)
	}

	if chall.Expired(l.clock.Now()) {
		expired.Inc()
		if err := l.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			l.logger.Debug("can't evict expired challenge", "id", id, "err", err)
		}

		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}

	if chall.Used {
		return nil, fmt.Errorf("%w: %s", ErrUsed, id)
	}

	return &chall, nil
}

// IsValid reports whether id is present, unused and unexpired.
func (l *Ledger) IsValid(ctx context.Context, id string) bool {
	_, err := l.Get(ctx, id)
	return err == nil
}

// Validate is Get plus a check that the challenge was issued for tmpl.
func (l *Ledger) Validate(ctx context.Context, id string, tmpl *shape.Template) (*Challenge, error) {
	chall, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if tmpl == nil || chall.Shape != tmpl.Name || chall.ShapeHash != tmpl.Hash() {
		return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, id)
	}

	return chall, nil
}

// Consume redeems id. Only one caller can ever consume a given challenge;
// everyone else gets ErrNotFound, ErrExpired or ErrUsed.
func (l *Ledger) Consume(ctx context.Context, id string) (*Challenge, error) {
	chall, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := l.store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return nil, fmt.Errorf("challenge: can't consume %s: %w", id, err)
	}

	chall.Used = true
	consumed.WithLabelValues(chall.Shape).Inc()
	TimeTaken.WithLabelValues(chall.Shape).Observe(float64(l.clock.Now().Sub(chall.IssuedAt).Milliseconds()))

	return chall, nil
}

// Lock serializes check-then-consume sequences for one id. Call the
// returned function to release it.
func (l *Ledger) Lock(id string) (unlock func()) {
	return l.locks.lock(id)
}

// Sweep removes expired challenges from stores that need help doing so.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	n, err := l.store.Cleanup(ctx)
	if err != nil {
		return n, fmt.Errorf("challenge: sweep failed: %w", err)
	}

	swept.Add(float64(n))
	return n, nil
}

// Run sweeps every interval until ctx is done.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Error("can't sweep challenges", "err", err)
				continue
			}

			if n != 0 {
				l.logger.Debug("swept expired challenges", "count", n)
			}
		}
	}
}
