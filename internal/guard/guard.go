package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseLockout  = time.Second
	defaultMaxLockout   = 60 * time.Second
	defaultForgiveAfter = 5 * time.Minute
)

var (
	// ErrLocked indicates that attempts for a wish are temporarily blocked.
	ErrLocked = errors.New("guard: attempts locked")
	// ErrWrongSecret indicates that the supplied password did not match.
	ErrWrongSecret = errors.New("guard: wrong password")
)

// DeniedError describes a rejected authorization along with the wait before the next attempt.
type DeniedError struct {
	Reason     error
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Reason, e.RetryAfter)
}

func (e *DeniedError) Unwrap() error {
	return e.Reason
}

// Decision is the result of a lockout check.
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// Config describes the lockout policy.
type Config struct {
	Clock        func() time.Time
	BaseLockout  time.Duration
	MaxLockout   time.Duration
	ForgiveAfter time.Duration
	Logger       *zap.Logger
}

type lockoutState struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
	verifying   bool
}

// Guard tracks failed password attempts per wish and enforces exponential lockouts.
type Guard struct {
	mu           sync.Mutex
	states       map[string]*lockoutState
	clock        func() time.Time
	baseLockout  time.Duration
	maxLockout   time.Duration
	forgiveAfter time.Duration
	logger       *zap.Logger
}

// New constructs a Guard, filling unset policy values with defaults.
func New(cfg Config) *Guard {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	base := cfg.BaseLockout
	if base <= 0 {
		base = defaultBaseLockout
	}
	maxLockout := cfg.MaxLockout
	if maxLockout <= 0 {
		maxLockout = defaultMaxLockout
	}
	forgive := cfg.ForgiveAfter
	if forgive <= 0 {
		forgive = defaultForgiveAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		states:       make(map[string]*lockoutState),
		clock:        clock,
		baseLockout:  base,
		maxLockout:   maxLockout,
		forgiveAfter: forgive,
		logger:       logger,
	}
}

// CheckLockout reports whether an attempt on wishID is currently permitted.
// A wish with a comparison in flight is reported as locked.
func (g *Guard) CheckLockout(wishID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[wishID]
	if !ok {
		return Decision{Allowed: true}
	}
	now := g.clock()
	if wait, locked := g.waitLocked(state, now); locked {
		return Decision{Allowed: false, Wait: wait}
	}
	if now.Sub(state.lastFailure) > g.forgiveAfter {
		delete(g.states, wishID)
	}
	return Decision{Allowed: true}
}

// RecordFailure registers a failed attempt and returns the lockout it triggered.
func (g *Guard) RecordFailure(wishID string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	state, ok := g.states[wishID]
	if !ok {
		state = &lockoutState{}
		g.states[wishID] = state
	}
	if state.failures > 0 && now.Sub(state.lastFailure) > g.forgiveAfter {
		state.failures = 0
	}

	state.failures++
	state.lastFailure = now
	state.verifying = false
	lockout := g.lockoutFor(state.failures)
	state.lockedUntil = now.Add(lockout)

	g.logger.Info("wish password attempt failed",
		zap.String("wish_id", wishID),
		zap.Int("failures", state.failures),
		zap.Duration("lockout", lockout))
	return lockout
}

// RecordSuccess clears all failure state for wishID.
func (g *Guard) RecordSuccess(wishID string) {
	g.mu.Lock()
	delete(g.states, wishID)
	g.mu.Unlock()
}

// Forget drops state for a wish that no longer exists.
func (g *Guard) Forget(wishID string) {
	g.RecordSuccess(wishID)
}

// Failures returns the current consecutive failure count for wishID.
func (g *Guard) Failures(wishID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.states[wishID]; ok {
		return state.failures
	}
	return 0
}

// Authorize runs the full check for one attempt: lockout, comparison, and bookkeeping.
// A locked wish is rejected even when the attempt is correct. Only one
// comparison per wish runs at a time; concurrent attempts are rejected as locked.
func (g *Guard) Authorize(wishID, stored, attempt string) error {
	if err := g.claim(wishID); err != nil {
		return err
	}
	if !Verify(stored, attempt) {
		lockout := g.RecordFailure(wishID)
		return &DeniedError{Reason: ErrWrongSecret, RetryAfter: lockout}
	}
	g.RecordSuccess(wishID)
	return nil
}

// claim checks the lockout and marks a comparison as in flight in one step.
func (g *Guard) claim(wishID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	state, ok := g.states[wishID]
	if !ok {
		state = &lockoutState{}
		g.states[wishID] = state
	}
	if wait, locked := g.waitLocked(state, now); locked {
		return &DeniedError{Reason: ErrLocked, RetryAfter: wait}
	}
	if state.failures > 0 && now.Sub(state.lastFailure) > g.forgiveAfter {
		state.failures = 0
	}
	state.verifying = true
	return nil
}

func (g *Guard) waitLocked(state *lockoutState, now time.Time) (time.Duration, bool) {
	if now.Before(state.lockedUntil) {
		return state.lockedUntil.Sub(now), true
	}
	if state.verifying {
		return g.lockoutFor(state.failures + 1), true
	}
	return 0, false
}

func (g *Guard) lockoutFor(failures int) time.Duration {
	lockout := g.baseLockout
	for step := 1; step < failures && lockout < g.maxLockout; step++ {
		lockout *= 2
	}
	if lockout > g.maxLockout {
		lockout = g.maxLockout
	}
	return lockout
}
