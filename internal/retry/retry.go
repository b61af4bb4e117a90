// Package retry holds the backoff policy shared by the session manager and the fetch scheduler.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes bounded exponential backoff.
type Policy struct {
	MaxAttempts int           // total attempts including the first one
	BaseDelay   time.Duration // delay before the second attempt
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy returns 3 attempts starting at 2s, growing by 1.5x, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  1.5,
		MaxDelay:    10 * time.Second,
	}
}

// normalize fills zero fields from DefaultPolicy.
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Attempts returns the total attempt budget.
func (p Policy) Attempts() int {
	return p.normalize().MaxAttempts
}

// Delay returns the wait before the given retry. attempt is the number of
// attempts already made, so Delay(1) is the wait before the second attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := p.normalize().exponential()
	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether no attempts remain after the given count.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.normalize().MaxAttempts
}

// NewBackOff returns a deterministic backoff.BackOff for this policy, bounded
// by MaxAttempts and bound to ctx.
func (p Policy) NewBackOff(ctx context.Context) backoff.BackOff {
	p = p.normalize()
	return backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(p.MaxAttempts-1)), ctx)
}

// exponential returns an unjittered, unbounded backoff over p's delays.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns an error wrapped with Permanent, the
// attempt budget runs out, or ctx is done. notify may be nil.
func (p Policy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(op, p.NewBackOff(ctx), notify)
}

// Permanent marks err as not worth retrying inside Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
