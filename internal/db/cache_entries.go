package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetCacheEntry retrieves an entry by fingerprint. Returns nil, nil when absent.
func (db *DB) GetCacheEntry(ctx context.Context, fingerprint string) (*CacheEntry, error) {
	var e CacheEntry
	var checksum int64
	err := db.pool.QueryRow(ctx,
		`SELECT fingerprint, payload, checksum, created_at, expires_at, hit_count, last_hit_at
		 FROM cache_entries WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&e.Fingerprint, &e.Payload, &checksum, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.LastHitAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	e.Checksum = uint32(checksum)
	return &e, nil
}

// UpsertCacheEntry writes an entry, replacing any existing row for the fingerprint.
func (db *DB) UpsertCacheEntry(ctx context.Context, e *CacheEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, checksum, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		     payload = EXCLUDED.payload,
		     checksum = EXCLUDED.checksum,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at,
		     hit_count = 0,
		     last_hit_at = NULL`,
		e.Fingerprint, e.Payload, int64(e.Checksum), e.CreatedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// TouchCacheEntry records a cache hit.
func (db *DB) TouchCacheEntry(ctx context.Context, fingerprint string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_hit_at = NOW() WHERE fingerprint = $1`,
		fingerprint,
	)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes an entry. Deleting a missing entry is not an error.
func (db *DB) DeleteCacheEntry(ctx context.Context, fingerprint string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM cache_entries WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntryIfExpired removes the entry only if it has expired at now,
// so a row rewritten since it was read survives. It reports whether a row
// was removed.
func (db *DB) DeleteCacheEntryIfExpired(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE fingerprint = $1 AND expires_at <= $2`,
		fingerprint, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete expired cache entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// DeleteCacheEntryIfUnchanged removes the entry only while it is still the
// version identified by checksum and createdAt.
func (db *DB) DeleteCacheEntryIfUnchanged(ctx context.Context, fingerprint string, checksum uint32, createdAt time.Time) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE fingerprint = $1 AND checksum = $2 AND created_at = $3`,
		fingerprint, int64(checksum), createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// DeleteExpiredCacheEntries removes entries that expired before now.
func (db *DB) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return result.RowsAffected(), nil
}
