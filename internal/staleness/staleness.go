// Package staleness decides whether a locally cached snapshot is still fresh
// enough to show without asking the backend again.
package staleness

import "time"

// DefaultMaxAge is how long a cached snapshot is considered fresh.
const DefaultMaxAge = 30 * time.Minute

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// IsStale reports whether a snapshot synced at lastSyncedAt is older than
// maxAge at instant now. A missing timestamp is always stale. The age must
// strictly exceed maxAge, so a snapshot exactly maxAge old is still fresh.
func IsStale(lastSyncedAt *time.Time, maxAge time.Duration, now time.Time) bool {
	if lastSyncedAt == nil || lastSyncedAt.IsZero() {
		return true
	}
	return now.Sub(*lastSyncedAt) > maxAge
}

// Policy bundles a max age with the clock it is measured against.
type Policy struct {
	MaxAge time.Duration
	Now    Clock
}

// NewPolicy returns a Policy using the wall clock. A non-positive maxAge
// selects DefaultMaxAge.
func NewPolicy(maxAge time.Duration) Policy {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return Policy{MaxAge: maxAge, Now: time.Now}
}

// IsStale applies the policy to lastSyncedAt.
func (p Policy) IsStale(lastSyncedAt *time.Time) bool {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return IsStale(lastSyncedAt, p.MaxAge, now())
}

// Age returns how old the snapshot is, or zero when there is none.
func (p Policy) Age(lastSyncedAt *time.Time) time.Duration {
	if lastSyncedAt == nil || lastSyncedAt.IsZero() {
		return 0
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Sub(*lastSyncedAt)
}
