package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate spaces dispatches to the same target by a minimum interval. Targets
// are independent: a busy target never delays another.
type Gate struct {
	interval time.Duration

	mu      sync.Mutex
	targets map[string]*rate.Limiter
	last    map[string]time.Time
}

// NewGate returns a gate enforcing interval between dispatches per target.
// A non-positive interval disables spacing.
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		targets:  make(map[string]*rate.Limiter),
		last:     make(map[string]time.Time),
	}
}

// Interval returns the configured spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

func (g *Gate) limiter(target string) *rate.Limiter {
	lim, ok := g.targets[target]
	if !ok {
		limit := rate.Inf
		if g.interval > 0 {
			limit = rate.Every(g.interval)
		}
		lim = rate.NewLimiter(limit, 1)
		g.targets[target] = lim
	}
	return lim
}

// Delay returns how long the target must wait before it may dispatch at now.
// Zero means it may dispatch immediately.
func (g *Gate) Delay(target string, now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.interval <= 0 {
		return 0
	}
	var wait time.Duration
	if last, ok := g.last[target]; ok {
		wait = g.interval - now.Sub(last)
	}
	lim := g.limiter(target)
	if tokens := lim.TokensAt(now); tokens < 1 {
		wait = max(wait, untilToken(lim, tokens))
	}
	return max(wait, 0)
}

// TryTake records a dispatch to target at now if the interval has elapsed
// since the previous one. It reports whether the dispatch was admitted.
func (g *Gate) TryTake(target string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.interval > 0 {
		if last, ok := g.last[target]; ok && now.Sub(last) < g.interval {
			return false
		}
		if !g.limiter(target).AllowN(now, 1) {
			return false
		}
	}
	g.last[target] = now
	return true
}

// LastDispatch returns the time of the most recent admitted dispatch to target.
func (g *Gate) LastDispatch(target string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[target]
	return t, ok
}
