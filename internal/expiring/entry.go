package expiring

import "time"

// Entry is a single value held by a Map.
//
// Entries are replaced on write, never mutated in place.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// IsExpired reports whether the entry is no longer live at now.
// An entry is live only while ExpiresAt is strictly after now.
func (e Entry[V]) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// expiryFrom returns now+ttl, saturating instead of overflowing.
func expiryFrom(now time.Time, ttl time.Duration) time.Time {
	t := now.Add(ttl)
	if ttl > 0 && t.Before(now) {
		return maxTime
	}
	return t
}

var maxTime = time.Unix(1<<62, 0)
