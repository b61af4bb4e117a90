package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/mp-harvester/internal/retry"
)

// recordingDoer records dispatch order and times per target and answers with
// the result of respond.
type recordingDoer struct {
	mu      sync.Mutex
	calls   []string
	times   map[string][]time.Time
	respond func(req *Request, n int) error
	hold    time.Duration
	count   atomic.Int64
}

func newRecordingDoer() *recordingDoer {
	return &recordingDoer{times: make(map[string][]time.Time)}
}

func (d *recordingDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	n := int(d.count.Add(1))
	d.mu.Lock()
	d.calls = append(d.calls, req.URL)
	d.times[req.TargetKey()] = append(d.times[req.TargetKey()], time.Now())
	d.mu.Unlock()

	if d.hold > 0 {
		select {
		case <-time.After(d.hold):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.respond != nil {
		if err := d.respond(req, n); err != nil {
			return nil, err
		}
	}
	return &Response{URL: req.URL, Kind: req.Kind, StatusCode: 200, Body: []byte(req.URL)}, nil
}

func (d *recordingDoer) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond}
}

func req(target, url string) *Request {
	return &Request{Kind: KindArticle, Target: target, URL: url, Page: -1}
}

func TestScheduler_SpacesDispatchesPerTarget(t *testing.T) {
	doer := newRecordingDoer()
	interval := 50 * time.Millisecond
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 4, Interval: interval, Logger: zaptest.NewLogger(t)})
	defer s.Close()

	var futures []*Future
	for i := 0; i < 4; i++ {
		f, err := s.Submit(context.Background(), req("a", "a"))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	times := doer.times["a"]
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		// Allow a little clock slack between the gate and the recorder.
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval-10*time.Millisecond)
	}
}

func TestScheduler_TargetsRunInParallel(t *testing.T) {
	doer := newRecordingDoer()
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 4, Interval: time.Hour})
	defer s.Close()

	start := time.Now()
	var futures []*Future
	for _, target := range []string{"a", "b", "c"} {
		f, err := s.Submit(context.Background(), req(target, target))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	doer := newRecordingDoer()
	doer.hold = 20 * time.Millisecond
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 5, Interval: -1})
	defer s.Close()

	var futures []*Future
	for i := 0; i < 20; i++ {
		f, err := s.Submit(context.Background(), req(string(rune('a'+i)), "u"))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, s.PeakInFlight(), 5)
	assert.Equal(t, 5, s.PeakInFlight(), "the pool should fill up")
	assert.Zero(t, s.InFlight())
}

func TestScheduler_FIFOWithinTarget(t *testing.T) {
	doer := newRecordingDoer()
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 1, Interval: time.Millisecond})
	defer s.Close()

	want := []string{"1", "2", "3", "4", "5"}
	var futures []*Future
	for _, u := range want {
		f, err := s.Submit(context.Background(), req("t", u))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}
	assert.Equal(t, want, doer.urls())
}

func TestScheduler_PriorityPlacesSearchFirst(t *testing.T) {
	doer := newRecordingDoer()
	doer.hold = 30 * time.Millisecond
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 1, Interval: -1})
	defer s.Close()

	// The first request occupies the only worker while the rest queue.
	first, err := s.Submit(context.Background(), req("t", "busy"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.InFlight() == 1 }, time.Second, time.Millisecond)

	article := req("t", "article")
	article.Priority = PriorityArticle
	fa, err := s.Submit(context.Background(), article)
	require.NoError(t, err)
	fs, err := s.Submit(context.Background(), req("t", "listing"))
	require.NoError(t, err)

	for _, f := range []*Future{first, fa, fs} {
		_, err := f.Wait()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"busy", "listing", "article"}, doer.urls())
}

func TestScheduler_RetriesTransientErrors(t *testing.T) {
	doer := newRecordingDoer()
	doer.respond = func(_ *Request, n int) error {
		if n < 3 {
			return &TransientError{URL: "u", Status: 503, Message: "HTTP status 503"}
		}
		return nil
	}
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 2, Interval: -1, Retry: fastRetry()})
	defer s.Close()

	resp, err := s.Do(context.Background(), req("t", "u"))
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int64(3), doer.count.Load())
}

func TestScheduler_GivesUpAfterBudget(t *testing.T) {
	doer := newRecordingDoer()
	doer.respond = func(*Request, int) error {
		return &TransientError{URL: "u", Message: "connection failed"}
	}
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 2, Interval: -1, Retry: fastRetry()})
	defer s.Close()

	_, err := s.Do(context.Background(), req("t", "u"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int64(3), doer.count.Load())
}

func TestScheduler_DoesNotRetryClientOrAuthErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client", &ClientError{URL: "u", Status: 404, Message: "HTTP status 404"}},
		{"auth", ErrAuthExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := newRecordingDoer()
			doer.respond = func(*Request, int) error { return tt.err }
			s := NewScheduler(doer, SchedulerOptions{Interval: -1, Retry: fastRetry()})
			defer s.Close()

			_, err := s.Do(context.Background(), req("t", "u"))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, int64(1), doer.count.Load())
		})
	}
}

func TestScheduler_CanceledWhileQueuedIsDropped(t *testing.T) {
	doer := newRecordingDoer()
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 1, Interval: time.Hour})
	defer s.Close()

	_, err := s.Do(context.Background(), req("t", "first"))
	require.NoError(t, err)

	// The gate now holds target t for an hour.
	ctx, cancel := context.WithCancel(context.Background())
	f, err := s.Submit(ctx, req("t", "second"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Queued())

	cancel()
	_, err = f.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Queued())
	assert.Equal(t, []string{"first"}, doer.urls())
}

func TestScheduler_InFlightSurvivesCallerCancel(t *testing.T) {
	doer := newRecordingDoer()
	doer.hold = 30 * time.Millisecond
	s := NewScheduler(doer, SchedulerOptions{Interval: -1})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f, err := s.Submit(ctx, req("t", "u"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.InFlight() == 1 }, time.Second, time.Millisecond)
	cancel()

	resp, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, "u", resp.URL)
}

func TestScheduler_Close(t *testing.T) {
	doer := newRecordingDoer()
	s := NewScheduler(doer, SchedulerOptions{MaxWorkers: 1, Interval: time.Hour})

	_, err := s.Do(context.Background(), req("t", "first"))
	require.NoError(t, err)
	f, err := s.Submit(context.Background(), req("t", "queued"))
	require.NoError(t, err)

	s.Close()
	_, err = f.Wait()
	assert.True(t, errors.Is(err, ErrSchedulerClosed))

	_, err = s.Submit(context.Background(), req("t", "late"))
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}
