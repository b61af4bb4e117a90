package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const keyPrefix = "cache/"

// BadgerStore is the default durable store, an embedded badger database.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenBadger opens (or creates) a badger store under dir. An empty dir opens
// an in-memory database.
func OpenBadger(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", dir, err)
	}
	return NewBadgerStore(db, logger), nil
}

// NewBadgerStore wraps an open badger database.
func NewBadgerStore(db *badger.DB, logger *zap.Logger) *BadgerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgerStore{db: db, logger: logger, now: time.Now}
}

func badgerKey(fingerprint string) []byte {
	return []byte(keyPrefix + fingerprint)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	_, span := tracer.Start(ctx, "cache.badger.get")
	defer span.End()
	span.SetAttributes(attribute.String("fingerprint", fingerprint))

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(fingerprint))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	entry, err := decodeEntry(fingerprint, raw)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("discarding unreadable cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		s.discard(fingerprint, raw)
		return nil, nil
	}

	if entry.Expired(s.now()) {
		span.AddEvent("delete expired cache key")
		s.discard(fingerprint, raw)
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, nil
	}

	span.SetAttributes(attribute.Bool("hit", true), attribute.Int("payload_bytes", len(entry.Payload)))
	return entry, nil
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	_, span := tracer.Start(ctx, "cache.badger.put")
	defer span.End()
	span.SetAttributes(attribute.String("fingerprint", fingerprint))

	entry := newEntry(fingerprint, payload, ttl, s.now())
	data, err := encodeEntry(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize entry")
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		// badger expires the key on its own a little after we stop serving it.
		e := badger.NewEntry(badgerKey(fingerprint), data).WithTTL(entry.ExpiresAt.Sub(entry.CreatedAt) + time.Second)
		return txn.SetEntry(e)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Invalidate implements Store.
func (s *BadgerStore) Invalidate(ctx context.Context, fingerprint string) error {
	_, span := tracer.Start(ctx, "cache.badger.invalidate")
	defer span.End()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(fingerprint))
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete badger item")
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// discard deletes the key only while it still holds stale. A Put that landed
// after stale was read keeps its value.
func (s *BadgerStore) discard(fingerprint string, stale []byte) bool {
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(fingerprint))
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, stale) {
			return nil
		}
		removed = true
		return txn.Delete(badgerKey(fingerprint))
	})
	switch {
	case err == nil:
		return removed
	case errors.Is(err, badger.ErrKeyNotFound), errors.Is(err, badger.ErrConflict):
		// Already gone, or rewritten while we looked.
	default:
		s.logger.Warn("failed to delete cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	return false
}

// Purge deletes expired and unreadable entries and returns how many were removed.
func (s *BadgerStore) Purge(ctx context.Context) (int, error) {
	_, span := tracer.Start(ctx, "cache.badger.purge")
	defer span.End()

	type staleItem struct {
		fingerprint string
		raw         []byte
	}

	now := s.now()
	var stale []staleItem
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			fingerprint := string(item.Key()[len(keyPrefix):])
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := decodeEntry(fingerprint, raw)
			if err != nil || entry.Expired(now) {
				stale = append(stale, staleItem{fingerprint: fingerprint, raw: raw})
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to scan cache: %w", err)
	}

	removed := 0
	for _, item := range stale {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if s.discard(item.fingerprint, item.raw) {
			removed++
		}
	}

	// Value log GC is best effort; ErrNoRewrite just means nothing to reclaim.
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		s.logger.Debug("value log gc skipped", zap.Error(err))
	}

	s.logger.Info("purged cache", zap.Int("removed", removed))
	return removed, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
