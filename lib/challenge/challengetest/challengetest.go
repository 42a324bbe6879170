// Package challengetest has helpers for tests that need a challenge ledger.
package challengetest

import (
	"sync"
	"testing"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/store/memory"
)

// Clock is a manually advanced challenge.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// New returns a ledger over a fresh in-memory store, driven by a fake clock.
func New(t *testing.T, cfg config.Challenge) (*challenge.Ledger, *Clock) {
	t.Helper()

	clock := NewClock()
	return challenge.NewLedger(memory.New(), cfg, challenge.WithClock(clock)), clock
}

// Template returns a builtin template by name.
func Template(t *testing.T, name string) *shape.Template {
	t.Helper()

	cat, err := shape.Builtin()
	if err != nil {
		t.Fatal(err)
	}

	tmpl, ok := cat.Get(name)
	if !ok {
		t.Fatalf("no builtin shape %q", name)
	}

	return tmpl
}

// Issue issues a challenge for tmpl or fails the test.
func Issue(t *testing.T, l *challenge.Ledger, tmpl *shape.Template) *challenge.Challenge {
	t.Helper()

	chall, err := l.Issue(t.Context(), tmpl)
	if err != nil {
		t.Fatal(err)
	}

	return chall
}
