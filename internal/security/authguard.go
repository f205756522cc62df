// Package security tracks authentication failures and locks out a
// user@host pair after too many of them.
package security

import (
	"sync"
	"time"

	"github.com/acolita/shellconn/internal/adapters/realclock"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/ports"
)

const (
	// DefaultMaxAuthFailures is the number of failures before lockout.
	DefaultMaxAuthFailures = 3

	// DefaultAuthLockout is how long a locked pair stays locked.
	DefaultAuthLockout = 5 * time.Minute
)

// AuthGuard counts authentication failures per user@host.
type AuthGuard struct {
	mu          sync.Mutex
	clock       ports.Clock
	failures    map[string]*failure
	maxFailures int
	lockout     time.Duration
}

type failure struct {
	count    int
	first    time.Time
	lockedAt time.Time
}

// Option configures an AuthGuard.
type Option func(*AuthGuard)

// WithClock sets the clock used for lockout expiry.
func WithClock(c ports.Clock) Option {
	return func(g *AuthGuard) {
		g.clock = c
	}
}

// NewAuthGuard creates a guard. Non-positive limits take the defaults.
func NewAuthGuard(maxFailures int, lockout time.Duration, opts ...Option) *AuthGuard {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockout <= 0 {
		lockout = DefaultAuthLockout
	}
	g := &AuthGuard{
		clock:       realclock.New(),
		failures:    make(map[string]*failure),
		maxFailures: maxFailures,
		lockout:     lockout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func key(host, user string) string {
	return user + "@" + host
}

// Check returns an AuthFailed error while host/user is locked.
func (g *AuthGuard) Check(host, user string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.failures[key(host, user)]
	if !ok || f.lockedAt.IsZero() {
		return nil
	}
	remaining := g.lockout - g.clock.Since(f.lockedAt)
	if remaining <= 0 {
		return nil
	}
	return errors.New(errors.CodeAuthFailed,
		"too many authentication failures for %s, retry in %s",
		key(host, user), remaining.Round(time.Second))
}

// Observe records the outcome of a connect attempt. Only AuthFailed counts
// as a failure; success clears the pair; other errors are ignored.
func (g *AuthGuard) Observe(host, user string, err error) {
	switch {
	case err == nil:
		g.reset(host, user)
	case errors.IsCode(err, errors.CodeAuthFailed):
		g.recordFailure(host, user)
	}
}

func (g *AuthGuard) recordFailure(host, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	k := key(host, user)
	f, ok := g.failures[k]
	if !ok || (!f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= g.lockout) {
		f = &failure{first: now}
		g.failures[k] = f
	}

	f.count++
	if f.count >= g.maxFailures && f.lockedAt.IsZero() {
		f.lockedAt = now
	}
}

func (g *AuthGuard) reset(host, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, key(host, user))
}

// Cleanup drops expired lockouts and failures older than twice the lockout.
func (g *AuthGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	for k, f := range g.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= g.lockout {
			delete(g.failures, k)
			continue
		}
		if now.Sub(f.first) >= 2*g.lockout {
			delete(g.failures, k)
		}
	}
}

// Tracked reports how many pairs currently have recorded failures.
func (g *AuthGuard) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.failures)
}
