package cache

import (
	"context"
	"errors"
	"time"
)

// Layered serves reads from a fast front store and falls back to a durable
// back store, promoting hits. Writes go to the back store first so a failed
// durable write never leaves the front holding data the back does not.
type Layered struct {
	front Store
	back  Store
	now   func() time.Time
}

// NewLayered stacks front over back.
func NewLayered(front, back Store) *Layered {
	return &Layered{front: front, back: back, now: time.Now}
}

// Get implements Store.
func (l *Layered) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	if entry, err := l.front.Get(ctx, fingerprint); err == nil && entry != nil {
		return entry, nil
	}

	entry, err := l.back.Get(ctx, fingerprint)
	if err != nil || entry == nil {
		return entry, err
	}
	if ttl := entry.TTL(l.now()); ttl > 0 {
		_ = l.front.Put(ctx, fingerprint, entry.Payload, ttl)
	}
	return entry, nil
}

// Put implements Store.
func (l *Layered) Put(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	if err := l.back.Put(ctx, fingerprint, payload, ttl); err != nil {
		return err
	}
	return l.front.Put(ctx, fingerprint, payload, ttl)
}

// Invalidate implements Store.
func (l *Layered) Invalidate(ctx context.Context, fingerprint string) error {
	return errors.Join(l.front.Invalidate(ctx, fingerprint), l.back.Invalidate(ctx, fingerprint))
}

// Purge purges both layers when they support it.
func (l *Layered) Purge(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, s := range []Store{l.front, l.back} {
		if p, ok := s.(Purger); ok {
			n, err := p.Purge(ctx)
			total += n
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Close implements Store.
func (l *Layered) Close() error {
	return errors.Join(l.front.Close(), l.back.Close())
}
