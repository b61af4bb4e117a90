// Package acquire composes the session manager, cache, fetch scheduler and
// extraction pipeline into one asynchronous operation per logical request.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/mp-harvester/internal/cache"
	"github.com/jonathan/mp-harvester/internal/config"
	"github.com/jonathan/mp-harvester/internal/extract"
	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/retry"
	"github.com/jonathan/mp-harvester/internal/session"
	"github.com/jonathan/mp-harvester/internal/types"
)

var tracer = otel.Tracer("github.com/jonathan/mp-harvester/internal/acquire")

// DefaultMaxPages is the number of listing pages fetched per search when
// none is configured.
const DefaultMaxPages = 10

var (
	// ErrAccountNotFound is returned when an account search has no match.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotArticle is returned for links that are not article pages.
	ErrNotArticle = errors.New("not an article link")
)

// Scheduler runs requests under the rate and concurrency limits.
// *fetch.Scheduler implements it.
type Scheduler interface {
	Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
}

// Recorder persists finished searches.
type Recorder interface {
	RecordSearch(ctx context.Context, set *types.SearchResultSet) error
}

// Options configures an Engine. Zero values take defaults, except Resubmits
// where a negative value disables resubmission.
type Options struct {
	Endpoints fetch.Endpoints
	Parser    *extract.Parser
	TTL       time.Duration
	MaxPages  int
	// Resubmits is how many times a failed or empty acquisition is sent
	// through the scheduler again after the scheduler's own retries.
	Resubmits int
	Retry     retry.Policy
	Recorder  Recorder
	Logger    *zap.Logger
}

// OptionsFromConfig maps the configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TTL:       cfg.CacheTTL(),
		MaxPages:  cfg.MaxPages,
		Resubmits: cfg.Retry.Resubmits,
		Retry:     cfg.RetryPolicy(),
	}
}

// Stats counts cache and network activity.
type Stats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Fetches     int64 `json:"fetches"`
}

// Engine runs acquisitions. It is safe for concurrent use. Concurrent
// acquisitions of the same fingerprint share one fetch.
type Engine struct {
	sessions  *session.Manager
	sched     Scheduler
	cache     cache.Store
	parser    *extract.Parser
	endpoints fetch.Endpoints
	ttl       time.Duration
	maxPages  int
	resubmits int
	policy    retry.Policy
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	flights singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// New creates an Engine.
func New(sessions *session.Manager, sched Scheduler, store cache.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Parser == nil {
		opts.Parser = extract.NewParser(extract.DefaultSelectors(), opts.Logger)
	}
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	switch {
	case opts.Resubmits < 0:
		opts.Resubmits = 0
	case opts.Resubmits == 0:
		opts.Resubmits = 1
	}
	return &Engine{
		sessions:  sessions,
		sched:     sched,
		cache:     store,
		parser:    opts.Parser,
		endpoints: opts.Endpoints,
		ttl:       opts.TTL,
		maxPages:  opts.MaxPages,
		resubmits: opts.Resubmits,
		policy:    opts.Retry,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Stats returns the activity counters.
func (e *Engine) Stats() Stats {
	return Stats{
		CacheHits:   e.hits.Load(),
		CacheMisses: e.misses.Load(),
		Fetches:     e.fetches.Load(),
	}
}

// Sessions returns the session manager the engine authenticates with.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Cache returns the engine's cache store.
func (e *Engine) Cache() cache.Store {
	return e.cache
}

// SearchAccounts returns the accounts matching query.
func (e *Engine) SearchAccounts(ctx context.Context, query string) ([]types.Account, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("account query is empty")
	}
	res, err := e.acquire(ctx, fetch.KindAccountSearch, func(s *session.Session) *fetch.Request {
		return e.endpoints.SearchAccounts(s, query)
	})
	if err != nil {
		return nil, fmt.Errorf("account search %q failed: %w", query, err)
	}
	return res.Accounts, nil
}

// FetchArticle returns the extracted article at rawURL. A page that still
// extracts as empty after the resubmit budget is returned flagged Empty and
// is not cached.
func (e *Engine) FetchArticle(ctx context.Context, rawURL string) (*types.ArticleRecord, error) {
	if !e.endpoints.IsArticleURL(rawURL) {
		return nil, fmt.Errorf("%q: %w", rawURL, ErrNotArticle)
	}
	link := extract.CanonicalURL(rawURL)
	res, err := e.acquire(ctx, fetch.KindArticle, func(*session.Session) *fetch.Request {
		return fetch.Article(link)
	})
	if err != nil {
		return nil, fmt.Errorf("article %s failed: %w", link, err)
	}
	return res.Article, nil
}

// ListingPage returns one page of fakeID's article listing.
func (e *Engine) ListingPage(ctx context.Context, fakeID string, page int) (*types.ListingPage, error) {
	res, err := e.acquire(ctx, fetch.KindArticleList, func(s *session.Session) *fetch.Request {
		return e.endpoints.ArticleList(s, fakeID, page)
	})
	if err != nil {
		return nil, err
	}
	return res.Listing, nil
}

// Fingerprint returns the cache key of an article page, for invalidation.
func (e *Engine) Fingerprint(rawURL string) (string, error) {
	req := fetch.Article(extract.CanonicalURL(rawURL))
	return cache.Fingerprint(req.URL, req.Params)
}

type requestBuilder func(s *session.Session) *fetch.Request

// leaderGoneError marks a flight that ended because the context of the
// caller running it ended. Joined callers that are still live start over.
type leaderGoneError struct {
	err error
}

func (e *leaderGoneError) Error() string { return e.err.Error() }
func (e *leaderGoneError) Unwrap() error { return e.err }

// acquire resolves one request through the cache, coalescing concurrent
// callers with the same fingerprint. A flight cut short by its leader's
// context is re-run for joined callers whose own context is live.
func (e *Engine) acquire(ctx context.Context, kind fetch.Kind, build requestBuilder) (*extract.Result, error) {
	var s *session.Session
	if kind.Authenticated() {
		var err error
		if s, err = e.sessions.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	req := build(s)
	fp, err := cache.Fingerprint(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	for {
		res := <-e.flights.DoChan(fp, func() (any, error) {
			res, err := e.run(ctx, fp, req, build)
			if err != nil && ctx.Err() != nil {
				return nil, &leaderGoneError{err: err}
			}
			return res, err
		})
		if res.Err != nil {
			var gone *leaderGoneError
			if errors.As(res.Err, &gone) {
				// The caller running the flight gave up or timed out; this
				// caller has not, so it leads a new one.
				if ctx.Err() == nil {
					continue
				}
				return nil, gone.err
			}
			return nil, res.Err
		}
		return res.Val.(*extract.Result), nil
	}
}

// run drives one acquisition through its states.
func (e *Engine) run(ctx context.Context, fp string, req *fetch.Request, build requestBuilder) (*extract.Result, error) {
	ctx, span := tracer.Start(ctx, "acquire."+string(req.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("fingerprint", fp),
		attribute.String("url", req.URL),
		attribute.Int("page", req.Page),
	)
	a := newAcquisition(fp, span, e.logger)

	a.to(StateCacheCheck)
	if res := e.lookup(ctx, fp); res != nil {
		e.hits.Add(1)
		a.to(StateCacheHit)
		a.to(StateDone)
		return res, nil
	}
	e.misses.Add(1)
	a.to(StateCacheMiss)

	reauthenticated := false
	resubmits := 0
	for {
		a.to(StateFetching)
		e.fetches.Add(1)
		resp, err := e.sched.Do(ctx, req)
		if err == nil {
			a.to(StateExtracting)
			res, err := e.parser.Parse(resp)
			if err != nil {
				return nil, a.fail(err)
			}
			if res.Article != nil && res.Article.Empty {
				if resubmits < e.resubmits {
					resubmits++
					a.to(StateRetrying)
					e.logger.Info("article extracted empty, fetching again",
						zap.String("url", req.URL), zap.Int("resubmit", resubmits))
					if err := e.pause(ctx, resubmits); err != nil {
						return nil, a.fail(err)
					}
					continue
				}
				a.to(StateDone)
				return res, nil
			}
			a.to(StateCacheWrite)
			e.store(ctx, fp, res)
			a.to(StateDone)
			return res, nil
		}

		switch {
		case errors.Is(err, fetch.ErrAuthExpired) && req.Kind.Authenticated() && !reauthenticated:
			reauthenticated = true
			a.to(StateReauthenticating)
			e.logger.Info("credential rejected, re-authenticating", zap.String("url", req.URL))
			s, aerr := e.sessions.Reauthenticate(ctx, req.Session)
			if aerr != nil {
				return nil, a.fail(aerr)
			}
			req = build(s)
		case fetch.IsTransient(err) && resubmits < e.resubmits:
			resubmits++
			a.to(StateRetrying)
			e.logger.Warn("request failed, resubmitting",
				zap.String("url", req.URL), zap.Int("resubmit", resubmits), zap.Error(err))
			if err := e.pause(ctx, resubmits); err != nil {
				return nil, a.fail(err)
			}
		default:
			return nil, a.fail(err)
		}
	}
}

func (e *Engine) pause(ctx context.Context, attempt int) error {
	t := time.NewTimer(e.policy.Delay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup returns the cached result for fp. Unreadable entries are dropped
// and count as a miss.
func (e *Engine) lookup(ctx context.Context, fp string) *extract.Result {
	entry, err := e.cache.Get(ctx, fp)
	if err != nil {
		e.logger.Warn("cache read failed", zap.String("fingerprint", fp), zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}
	var res extract.Result
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		e.logger.Warn("discarding unreadable cached payload", zap.String("fingerprint", fp), zap.Error(err))
		if err := e.cache.Invalidate(ctx, fp); err != nil {
			e.logger.Warn("failed to invalidate cache entry", zap.String("fingerprint", fp), zap.Error(err))
		}
		return nil
	}
	return &res
}

// store writes res under fp. The write outlives the caller's context.
func (e *Engine) store(ctx context.Context, fp string, res *extract.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		e.logger.Error("failed to encode result", zap.String("fingerprint", fp), zap.Error(err))
		return
	}
	if err := e.cache.Put(context.WithoutCancel(ctx), fp, payload, e.ttl); err != nil {
		e.logger.Warn("cache write failed", zap.String("fingerprint", fp), zap.Error(err))
	}
}
