package auth

import (
	"context"
	"time"

	"store-backend/internal/counter"
)

const (
	defaultMaxAttempts      = 5
	defaultLockDuration     = 15 * time.Minute
	defaultAttemptRetention = 24 * time.Hour
)

type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
	// Retention bounds how long a run of failures is remembered without a new attempt.
	Retention time.Duration
}

type LockoutState struct {
	FailedAttempts int
	LockedUntil    time.Time
}

func (s LockoutState) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// LockoutTracker counts consecutive failed logins per identity. A lock expires lazily:
// the first read at or after LockedUntil sees Unlocked(0).
type LockoutTracker struct {
	store        counter.Store
	maxAttempts  int
	lockDuration time.Duration
	retention    time.Duration
	now          func() time.Time
}

func NewLockoutTracker(store counter.Store, cfg LockoutConfig) *LockoutTracker {
	t := &LockoutTracker{
		store:        store,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockDuration,
		retention:    defaultAttemptRetention,
		now:          time.Now,
	}
	if cfg.MaxAttempts > 0 {
		t.maxAttempts = cfg.MaxAttempts
	}
	if cfg.LockDuration > 0 {
		t.lockDuration = cfg.LockDuration
	}
	if cfg.Retention > 0 {
		t.retention = cfg.Retention
	}
	if t.retention < t.lockDuration {
		t.retention = t.lockDuration
	}
	return t
}

func lockoutKey(identityID string) string {
	return "lockout:" + identityID
}

func (t *LockoutTracker) State(ctx context.Context, identityID string) (LockoutState, error) {
	rec, found, err := t.store.Get(ctx, lockoutKey(identityID))
	if err != nil {
		return LockoutState{}, err
	}
	if !found {
		return LockoutState{}, nil
	}
	return t.normalize(rec, t.now().UTC()), nil
}

// Check returns a LockedError while identityID is locked.
func (t *LockoutTracker) Check(ctx context.Context, identityID string) error {
	state, err := t.State(ctx, identityID)
	if err != nil {
		return err
	}
	if state.Locked(t.now().UTC()) {
		return LockedError{Until: state.LockedUntil}
	}
	return nil
}

// RegisterFailure records a failed attempt and returns the resulting state. The write
// survives cancellation of ctx so that a timed-out request still counts.
func (t *LockoutTracker) RegisterFailure(ctx context.Context, identityID string) (LockoutState, error) {
	now := t.now().UTC()

	rec, err := t.store.Update(context.WithoutCancel(ctx), lockoutKey(identityID), t.retention, func(current counter.Record, found bool) counter.Record {
		if !found {
			current = counter.Record{}
		}
		state := t.normalize(current, now)
		if state.Locked(now) {
			return current
		}

		state.FailedAttempts++
		if state.FailedAttempts >= t.maxAttempts {
			state.LockedUntil = now.Add(t.lockDuration)
		}
		return counter.Record{Count: state.FailedAttempts, Until: state.LockedUntil}
	})
	if err != nil {
		return LockoutState{}, err
	}

	return LockoutState{FailedAttempts: rec.Count, LockedUntil: rec.Until}, nil
}

// Reset returns identityID to Unlocked(0).
func (t *LockoutTracker) Reset(ctx context.Context, identityID string) error {
	return t.store.Delete(context.WithoutCancel(ctx), lockoutKey(identityID))
}

func (t *LockoutTracker) normalize(rec counter.Record, now time.Time) LockoutState {
	state := LockoutState{FailedAttempts: rec.Count, LockedUntil: rec.Until}
	if !state.LockedUntil.IsZero() && !now.Before(state.LockedUntil) {
		return LockoutState{}
	}
	return state
}
