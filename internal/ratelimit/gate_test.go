package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGate_SpacesDispatchesPerTarget(t *testing.T) {
	g := NewGate(10 * time.Second)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Zero(t, g.Delay("appmsg", t0))
	assert.True(t, g.TryTake("appmsg", t0))

	// Same target is gated; a different target is not.
	assert.False(t, g.TryTake("appmsg", t0.Add(5*time.Second)))
	assert.InDelta(t, float64(5*time.Second), float64(g.Delay("appmsg", t0.Add(5*time.Second))), float64(10*time.Millisecond))
	assert.True(t, g.TryTake("searchbiz", t0.Add(5*time.Second)))

	assert.Zero(t, g.Delay("appmsg", t0.Add(10*time.Second)))
	assert.True(t, g.TryTake("appmsg", t0.Add(10*time.Second)))

	last, ok := g.LastDispatch("appmsg")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), last)
}

func TestGate_ZeroIntervalNeverWaits(t *testing.T) {
	g := NewGate(0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.Zero(t, g.Delay("t", now))
		assert.True(t, g.TryTake("t", now))
	}
}
