package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidKey is returned for an empty namespace or discriminator
var ErrInvalidKey = errors.New("throttle key must not be empty")

// Namespaces keep the protected actions disjoint in a shared store
const (
	NamespaceLogin      = "login"
	NamespaceResetEmail = "reset-email"
)

// Policy configures when a key locks and how long its state lives.
//
// Probation (15m) outlives Lockout (10m). Keep both values as shipped until
// product confirms which window was intended.
type Policy struct {
	// Threshold is the attempt count that triggers a lockout
	Threshold int
	// Lockout is how long a key stays locked, and its TTL while locked
	Lockout time.Duration
	// Probation is the TTL of an unlocked key with recorded attempts
	Probation time.Duration
}

// DefaultPolicy returns the policy used for login and reset-email throttling
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 3,
		Lockout:   10 * time.Minute,
		Probation: 15 * time.Minute,
	}
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if p.Threshold < 1 {
		return fmt.Errorf("throttle threshold must be at least 1")
	}
	if p.Lockout <= 0 || p.Probation <= 0 {
		return fmt.Errorf("throttle durations must be positive")
	}
	return nil
}

// State is the throttle state of one key
type State struct {
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// IsLocked reports whether the state is locked at now
func (s State) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// Store is the expiring key-value cache behind a Throttle.
// Implementations must make Increment atomic per key.
type Store interface {
	// Get returns the current state; ok is false when the key is absent or expired
	Get(ctx context.Context, key string, now time.Time) (state State, ok bool, err error)
	// Increment records one attempt and applies the policy, refreshing the key's expiry
	Increment(ctx context.Context, key string, policy Policy, now time.Time) (State, error)
	// Delete clears the key
	Delete(ctx context.Context, key string) error
}

// Throttle counts failed attempts of one protected action per discriminator
// (for example an email address) and locks the discriminator out after
// Policy.Threshold attempts.
type Throttle struct {
	store     Store
	namespace string
	policy    Policy
	now       func() time.Time
}

// New creates a throttle for namespace
func New(store Store, namespace string, policy Policy) (*Throttle, error) {
	if namespace == "" {
		return nil, ErrInvalidKey
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Throttle{
		store:     store,
		namespace: namespace,
		policy:    policy,
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Policy returns the throttle's policy
func (t *Throttle) Policy() Policy {
	return t.policy
}

func (t *Throttle) key(discriminator string) (string, error) {
	if discriminator == "" {
		return "", ErrInvalidKey
	}
	return "throttle:" + t.namespace + ":" + discriminator, nil
}

// Check returns the current state without consuming an attempt.
// An absent key yields the zero State.
func (t *Throttle) Check(ctx context.Context, discriminator string) (State, error) {
	key, err := t.key(discriminator)
	if err != nil {
		return State{}, err
	}
	state, ok, err := t.store.Get(ctx, key, t.now())
	if err != nil {
		return State{}, fmt.Errorf("failed to read throttle state: %w", err)
	}
	if !ok {
		return State{}, nil
	}
	return state, nil
}

// Locked reports whether discriminator is currently locked, and until when
func (t *Throttle) Locked(ctx context.Context, discriminator string) (bool, time.Time, error) {
	state, err := t.Check(ctx, discriminator)
	if err != nil {
		return false, time.Time{}, err
	}
	if state.IsLocked(t.now()) {
		return true, *state.LockedUntil, nil
	}
	return false, time.Time{}, nil
}

// RecordFailure consumes one attempt and returns the new state
func (t *Throttle) RecordFailure(ctx context.Context, discriminator string) (State, error) {
	key, err := t.key(discriminator)
	if err != nil {
		return State{}, err
	}
	state, err := t.store.Increment(ctx, key, t.policy, t.now())
	if err != nil {
		return State{}, fmt.Errorf("failed to record throttle failure: %w", err)
	}
	return state, nil
}

// Reset clears all state for discriminator
func (t *Throttle) Reset(ctx context.Context, discriminator string) error {
	key, err := t.key(discriminator)
	if err != nil {
		return err
	}
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to reset throttle: %w", err)
	}
	return nil
}

// apply is the shared policy step used by stores: one more attempt, lock when
// the threshold is reached, and report the TTL the key should live for.
func apply(prev State, policy Policy, now time.Time) (State, time.Duration) {
	next := State{Attempts: prev.Attempts + 1, LockedUntil: prev.LockedUntil}
	if next.LockedUntil != nil && !now.Before(*next.LockedUntil) {
		next = State{Attempts: 1}
	}
	if next.LockedUntil == nil && next.Attempts >= policy.Threshold {
		until := now.Add(policy.Lockout)
		next.LockedUntil = &until
	}
	if next.LockedUntil != nil {
		return next, next.LockedUntil.Sub(now)
	}
	return next, policy.Probation
}
