// Package lockstore provides the ephemeral key-value capability used for
// request-rate counters and the per-user active-session lock.
//
// The store is advisory: it is never the system of record. Callers treat store
// unavailability as permission (fail open) so a cache outage can never block
// paying users; the durable ledger remains the authority for quota accounting.
package lockstore

import (
	"context"
	"time"
)

// LockStore is the capability interface over the ephemeral store.
//
// The design calls for four operations (atomic increment-with-expiry,
// set-with-TTL, get, delete). Refresh is carried as a fifth primitive because
// extending a lock's TTL by re-SETting its value would racily resurrect a lock
// that settlement had just deleted; EXPIRE on the existing key cannot.
type LockStore interface {
	// IncrWithExpiry atomically increments the counter at key and ensures the
	// key expires after window. Returns the post-increment count.
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)

	// SetWithTTL stores value at key with the given TTL, overwriting any
	// existing value.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Refresh extends the TTL of an existing key. Missing keys are a no-op.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the key. Missing keys are a no-op.
	Delete(ctx context.Context, key string) error
}

// SessionLockKey is the single "active session" marker for a user. Its value
// is the active session ID; its existence is the sole concurrency gate for
// plans with a concurrency limit of 1.
func SessionLockKey(userID string) string {
	return "lock:session:" + userID
}

// RateKey is the fixed-window counter key for a user action.
func RateKey(userID, action string) string {
	return "rate:" + action + ":" + userID
}

// Noop is the LockStore used when no ephemeral store is configured. Every
// operation succeeds and nothing is ever present, which makes the fail-open
// policy explicit and testable rather than an implicit side effect of nil
// checks scattered through callers.
type Noop struct{}

// NewNoop returns a LockStore that always allows.
func NewNoop() *Noop { return &Noop{} }

// IncrWithExpiry reports a count of zero, which is always under any limit.
func (*Noop) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, nil
}

// SetWithTTL succeeds without storing anything.
func (*Noop) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}

// Get reports that no key exists.
func (*Noop) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

// Refresh succeeds without effect.
func (*Noop) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

// Delete succeeds without effect.
func (*Noop) Delete(ctx context.Context, key string) error {
	return nil
}

// Compile-time interface compliance check.
var _ LockStore = (*Noop)(nil)
