package cache

import (
	"context"
	"hash/crc32"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/db"
)

// entryDB is the subset of *db.DB the postgres store needs.
type entryDB interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*db.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e *db.CacheEntry) error
	TouchCacheEntry(ctx context.Context, fingerprint string) error
	DeleteCacheEntry(ctx context.Context, fingerprint string) error
	DeleteCacheEntryIfExpired(ctx context.Context, fingerprint string, now time.Time) (bool, error)
	DeleteCacheEntryIfUnchanged(ctx context.Context, fingerprint string, checksum uint32, createdAt time.Time) (bool, error)
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	Close()
}

// PostgresStore keeps entries in the cache_entries table, letting several
// harvester processes share one cache.
type PostgresStore struct {
	db     entryDB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore wraps a connected database. The schema must exist
// (see db.EnsureSchema).
func NewPostgresStore(database *db.DB, logger *zap.Logger) *PostgresStore {
	return newPostgresStore(database, logger)
}

func newPostgresStore(database entryDB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: database, logger: logger, now: time.Now}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "cache.postgres.get")
	defer span.End()
	span.SetAttributes(attribute.String("fingerprint", fingerprint))

	row, err := s.db.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache row")
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	if crc32.ChecksumIEEE(row.Payload) != row.Checksum {
		cerr := &CorruptionError{Fingerprint: fingerprint}
		span.RecordError(cerr)
		s.logger.Warn("discarding unreadable cache entry", zap.String("fingerprint", fingerprint), zap.Error(cerr))
		s.discardCorrupt(ctx, row)
		return nil, nil
	}

	if now := s.now(); !row.IsFresh(now) {
		// Conditional on expiry so a concurrent Put from another process wins.
		if _, err := s.db.DeleteCacheEntryIfExpired(ctx, fingerprint, now); err != nil {
			s.logger.Debug("failed to delete expired cache entry", zap.Error(err))
		}
		return nil, nil
	}

	if err := s.db.TouchCacheEntry(ctx, fingerprint); err != nil {
		s.logger.Debug("failed to record cache hit", zap.Error(err))
	}
	span.SetAttributes(attribute.Bool("hit", true))
	return &Entry{
		Fingerprint: row.Fingerprint,
		Payload:     row.Payload,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// discardCorrupt deletes row unless it has been rewritten since it was read.
func (s *PostgresStore) discardCorrupt(ctx context.Context, row *db.CacheEntry) {
	if _, err := s.db.DeleteCacheEntryIfUnchanged(ctx, row.Fingerprint, row.Checksum, row.CreatedAt); err != nil {
		s.logger.Warn("failed to delete corrupt cache entry", zap.String("fingerprint", row.Fingerprint), zap.Error(err))
	}
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "cache.postgres.put")
	defer span.End()

	entry := newEntry(fingerprint, payload, ttl, s.now())
	err := s.db.UpsertCacheEntry(ctx, &db.CacheEntry{
		Fingerprint: fingerprint,
		Payload:     entry.Payload,
		Checksum:    crc32.ChecksumIEEE(entry.Payload),
		CreatedAt:   entry.CreatedAt,
		ExpiresAt:   entry.ExpiresAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache row")
	}
	return err
}

// Invalidate implements Store.
func (s *PostgresStore) Invalidate(ctx context.Context, fingerprint string) error {
	return s.db.DeleteCacheEntry(ctx, fingerprint)
}

// Purge deletes expired rows.
func (s *PostgresStore) Purge(ctx context.Context) (int, error) {
	n, err := s.db.DeleteExpiredCacheEntries(ctx, s.now())
	return int(n), err
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
