package db

import "time"

// CacheEntry is a row of the cache_entries table.
type CacheEntry struct {
	Fingerprint string
	Payload     []byte
	Checksum    uint32
	CreatedAt   time.Time
	ExpiresAt   time.Time
	HitCount    int
	LastHitAt   *time.Time
}

// IsFresh returns true if the entry has not expired at now.
func (e *CacheEntry) IsFresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
