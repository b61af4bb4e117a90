// Package cache provides the TTL-bound, fingerprint-keyed store that sits in
// front of network access. Stores are passive: coalescing of concurrent
// fetches is the caller's job.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/jonathan/mp-harvester/internal/cache")

// DefaultTTL is the lifetime of an entry when none is configured.
const DefaultTTL = 96 * time.Hour

// Entry is a cached payload.
type Entry struct {
	Fingerprint string
	Payload     []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry is no longer live at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the entry's remaining lifetime at now.
func (e *Entry) TTL(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}

// Store maps fingerprints to payloads. Get returns nil, nil on a miss, an
// expired entry, or an unreadable entry.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Put(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, fingerprint string) error
	Close() error
}

// Purger is implemented by stores that can drop expired entries in bulk.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// CorruptionError reports an entry that could not be decoded.
type CorruptionError struct {
	Fingerprint string
	Cause       error
}

func (e *CorruptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cache corruption error: %s: %v", e.Fingerprint, e.Cause)
	}
	return fmt.Sprintf("cache corruption error: %s", e.Fingerprint)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}

// envelope is the on-disk form of an Entry.
type envelope struct {
	Payload   []byte
	CreatedAt int64 // unix nanoseconds
	ExpiresAt int64
	Checksum  uint32
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(envelope{
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt.UnixNano(),
		ExpiresAt: e.ExpiresAt.UnixNano(),
		Checksum:  crc32.ChecksumIEEE(e.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(fingerprint string, data []byte) (*Entry, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, &CorruptionError{Fingerprint: fingerprint, Cause: err}
	}
	if crc32.ChecksumIEEE(env.Payload) != env.Checksum {
		return nil, &CorruptionError{Fingerprint: fingerprint, Cause: fmt.Errorf("checksum mismatch")}
	}
	if env.ExpiresAt <= env.CreatedAt {
		return nil, &CorruptionError{Fingerprint: fingerprint, Cause: fmt.Errorf("invalid expiry")}
	}
	return &Entry{
		Fingerprint: fingerprint,
		Payload:     env.Payload,
		CreatedAt:   time.Unix(0, env.CreatedAt),
		ExpiresAt:   time.Unix(0, env.ExpiresAt),
	}, nil
}

func newEntry(fingerprint string, payload []byte, ttl time.Duration, now time.Time) *Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Entry{
		Fingerprint: fingerprint,
		Payload:     bytes.Clone(payload),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}
