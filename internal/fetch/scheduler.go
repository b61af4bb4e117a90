package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/mp-harvester/internal/ratelimit"
	"github.com/jonathan/mp-harvester/internal/retry"
)

// ErrSchedulerClosed is returned for requests submitted to, or still queued
// in, a closed Scheduler.
var ErrSchedulerClosed = errors.New("scheduler closed")

// DefaultMaxWorkers bounds concurrent requests when none is configured.
const DefaultMaxWorkers = 5

// DefaultInterval is the minimum spacing between dispatches to one target.
const DefaultInterval = 10 * time.Second

// Doer sends one request. *Client implements it.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// SchedulerOptions configures a Scheduler. Zero values take defaults, except
// Interval where a negative value disables spacing.
type SchedulerOptions struct {
	MaxWorkers int
	Interval   time.Duration
	Timeout    time.Duration
	Retry      retry.Policy
	Logger     *zap.Logger
}

// Future is the pending outcome of a submitted request. It always resolves,
// with a response, the final error, or the submit context's error when the
// request was dropped before dispatch.
type Future struct {
	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(resp *Response, err error) {
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
	})
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is known.
func (f *Future) Wait() (*Response, error) {
	<-f.done
	return f.resp, f.err
}

type job struct {
	req      *Request
	ctx      context.Context
	target   string
	seq      uint64
	attempts int
	readyAt  time.Time
	future   *Future
	stop     func() bool
}

func (j *job) before(o *job) bool {
	if j.req.Priority != o.req.Priority {
		return j.req.Priority < o.req.Priority
	}
	return j.seq < o.seq
}

// Scheduler dispatches requests through a bounded worker pool. Each target
// has its own FIFO queue, and consecutive dispatches to a target are spaced by
// the configured interval. Different targets proceed in parallel.
type Scheduler struct {
	doer    Doer
	gate    *ratelimit.Gate
	sem     *semaphore.Weighted
	policy  retry.Policy
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	queues map[string][]*job
	seq    uint64
	closed bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewScheduler starts a Scheduler sending requests through doer. Close must be
// called to stop it.
func NewScheduler(doer Doer, opts SchedulerOptions) *Scheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		doer:    doer,
		gate:    ratelimit.NewGate(opts.Interval),
		sem:     semaphore.NewWeighted(int64(opts.MaxWorkers)),
		policy:  opts.Retry,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     time.Now,
		queues:  make(map[string][]*job),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// Submit queues req. Cancelling ctx before dispatch drops the request; once
// dispatched it runs to completion under the fetch timeout.
func (s *Scheduler) Submit(ctx context.Context, req *Request) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	s.seq++
	j := &job{
		req:     req,
		ctx:     ctx,
		target:  req.TargetKey(),
		seq:     s.seq,
		readyAt: s.now(),
		future:  newFuture(),
	}
	s.enqueue(j)
	j.stop = context.AfterFunc(ctx, func() { s.drop(j) })
	s.mu.Unlock()

	s.signal()
	return j.future, nil
}

// Do submits req and waits for its outcome.
func (s *Scheduler) Do(ctx context.Context, req *Request) (*Response, error) {
	f, err := s.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return f.Wait()
}

// InFlight returns the number of requests currently being sent.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// PeakInFlight returns the highest InFlight value observed.
func (s *Scheduler) PeakInFlight() int {
	return int(s.peak.Load())
}

// Queued returns the number of requests waiting for dispatch.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Close stops dispatching, fails queued requests with ErrSchedulerClosed and
// waits for in-flight requests to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for target, q := range s.queues {
		for _, j := range q {
			j.stop()
			j.future.resolve(nil, ErrSchedulerClosed)
		}
		delete(s.queues, target)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// enqueue inserts j into its target queue by (priority, seq). Callers hold mu.
func (s *Scheduler) enqueue(j *job) {
	q := s.queues[j.target]
	i := len(q)
	for i > 0 && j.before(q[i-1]) {
		i--
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = j
	s.queues[j.target] = q
}

// drop removes j if it is still queued and resolves it with its context error.
func (s *Scheduler) drop(j *job) {
	s.mu.Lock()
	removed := s.remove(j)
	s.mu.Unlock()
	if removed {
		j.future.resolve(nil, j.ctx.Err())
		s.logger.Debug("dropped canceled request", zap.String("target", j.target), zap.String("url", j.req.URL))
	}
}

func (s *Scheduler) remove(j *job) bool {
	q := s.queues[j.target]
	for i, queued := range q {
		if queued == j {
			q = append(q[:i], q[i+1:]...)
			if len(q) == 0 {
				delete(s.queues, j.target)
			} else {
				s.queues[j.target] = q
			}
			return true
		}
	}
	return false
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		j, wait := s.next()
		if j == nil {
			s.sem.Release(1)
			if !s.sleep(wait) {
				return
			}
			continue
		}
		s.wg.Add(1)
		go s.run(j)
	}
}

// next pops the dispatchable head with the lowest (priority, seq). When none
// is ready it returns the time until one might be, or zero if all queues are
// empty.
func (s *Scheduler) next() (*job, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var (
		best *job
		wait time.Duration
	)
	for target, q := range s.queues {
		for len(q) > 0 && q[0].ctx.Err() != nil {
			dropped := q[0]
			q = q[1:]
			dropped.future.resolve(nil, dropped.ctx.Err())
		}
		if len(q) == 0 {
			delete(s.queues, target)
			continue
		}
		s.queues[target] = q

		head := q[0]
		d := max(head.readyAt.Sub(now), s.gate.Delay(target, now))
		if d > 0 {
			if wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		if best == nil || head.before(best) {
			best = head
		}
	}

	if best == nil {
		return nil, wait
	}
	if !s.gate.TryTake(best.target, now) {
		return nil, time.Millisecond
	}
	s.remove(best)
	if best.stop != nil {
		best.stop()
	}
	return best, 0
}

func (s *Scheduler) sleep(wait time.Duration) bool {
	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-s.wake:
	case <-timer:
	case <-s.ctx.Done():
		return false
	}
	return true
}

func (s *Scheduler) run(j *job) {
	defer s.wg.Done()

	n := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	j.attempts++
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), s.timeout)
	resp, err := s.doer.Do(ctx, j.req)
	cancel()

	s.inFlight.Add(-1)
	s.sem.Release(1)
	s.signal()

	if err == nil {
		resp.Attempts = j.attempts
		j.future.resolve(resp, nil)
		return
	}

	if IsTransient(err) && !s.policy.Exhausted(j.attempts) && j.ctx.Err() == nil {
		delay := s.policy.Delay(j.attempts)
		if s.requeue(j, delay) {
			s.logger.Warn("retrying request",
				zap.String("target", j.target),
				zap.String("url", j.req.URL),
				zap.Int("attempt", j.attempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			return
		}
	}

	if j.attempts > 1 {
		err = fmt.Errorf("after %d attempts: %w", j.attempts, err)
	}
	j.future.resolve(nil, err)
}

// requeue puts j back in its queue, keeping its original position, once delay
// has passed. It reports false when the scheduler is closed.
func (s *Scheduler) requeue(j *job, delay time.Duration) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	j.readyAt = s.now().Add(delay)
	s.enqueue(j)
	s.mu.Unlock()

	s.signal()
	return true
}
