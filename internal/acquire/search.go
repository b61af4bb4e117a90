package acquire

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/types"
)

// SearchOptions describes one logical search over an account's articles.
type SearchOptions struct {
	// Query is the account name. It is ignored when FakeID is set.
	Query  string
	FakeID string
	// MaxPages caps the listing pages fetched; zero uses the engine default.
	MaxPages       int
	IncludeContent bool
	// Since and Until bound PublishedAt, inclusive. Zero means unbounded.
	Since time.Time
	Until time.Time
	// Keyword keeps only articles whose title, digest or body contain it.
	Keyword    string
	OnProgress ProgressCallback
}

type pageResult struct {
	listing *types.ListingPage
	err     error
	skipped bool
}

// Search resolves the account, fetches its listing pages concurrently and,
// optionally, every article body.
//
// Failed pages and articles are recorded in the set's Failures. When the
// caller cancels, the partial set is returned with Canceled set and a nil
// error. An error is returned only when nothing could be fetched; the set
// is returned alongside it.
func (e *Engine) Search(ctx context.Context, opts SearchOptions) (*types.SearchResultSet, error) {
	pages := opts.MaxPages
	if pages <= 0 {
		pages = e.maxPages
	}
	set := &types.SearchResultSet{
		ID:             uuid.NewString(),
		Query:          strings.TrimSpace(opts.Query),
		RequestedPages: pages,
		Articles:       []types.ArticleRecord{},
		Failures:       []types.PageFailure{},
		StartedAt:      e.now().UTC(),
	}
	if set.Query == "" {
		set.Query = opts.FakeID
	}

	ctx, span := tracer.Start(ctx, "acquire.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search_id", set.ID),
		attribute.String("query", set.Query),
		attribute.Int("requested_pages", pages),
	)
	logger := e.logger.With(zap.String("search_id", set.ID), zap.String("query", set.Query))
	p := newProgress(set.ID, opts.OnProgress)

	account, err := e.resolveAccount(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			set.Canceled = true
			return e.finish(ctx, set, p), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "account resolution failed")
		return nil, err
	}
	set.Account = account
	p.emit(ProgressEvent{Step: StepAccount, Message: fmt.Sprintf("Resolved account %s", account.Nickname), Page: -1, Content: account})

	var firstErr error
	seen := make(map[string]bool)
	for page, r := range e.fetchPages(ctx, account.FakeID, pages, opts.Since, p) {
		switch {
		case r.listing != nil:
			set.FetchedPages++
			for _, rec := range r.listing.Articles {
				if seen[rec.URL] || !inRange(&rec, opts.Since, opts.Until) {
					continue
				}
				seen[rec.URL] = true
				set.Articles = append(set.Articles, rec)
			}
		case r.skipped:
		case r.err != nil:
			kind := fetch.Classify(r.err)
			if kind == types.FailureCanceled {
				set.Canceled = true
			}
			if firstErr == nil {
				firstErr = r.err
			}
			set.Failures = append(set.Failures, types.PageFailure{Page: page, Kind: kind, Error: r.err.Error()})
		}
	}
	sort.SliceStable(set.Articles, func(i, j int) bool { return set.Articles[i].Rank < set.Articles[j].Rank })

	if opts.IncludeContent && ctx.Err() == nil {
		e.fetchContents(ctx, set, p)
	}
	if kw := strings.TrimSpace(opts.Keyword); kw != "" {
		kept := set.Articles[:0]
		for _, rec := range set.Articles {
			if matchesKeyword(&rec, kw) {
				kept = append(kept, rec)
			}
		}
		set.Articles = kept
	}

	if ctx.Err() != nil {
		set.Canceled = true
	}
	e.finish(ctx, set, p)
	logger.Info("search finished",
		zap.Int("fetched_pages", set.FetchedPages),
		zap.Int("articles", len(set.Articles)),
		zap.Int("failures", len(set.Failures)),
		zap.Bool("canceled", set.Canceled),
	)

	if set.FetchedPages == 0 && firstErr != nil && !set.Canceled {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, "no listing page could be fetched")
		return set, fmt.Errorf("search %q failed: %w", set.Query, firstErr)
	}
	return set, nil
}

// finish stamps the set, reports completion and records it.
func (e *Engine) finish(ctx context.Context, set *types.SearchResultSet, p *progress) *types.SearchResultSet {
	set.Completed = !set.Canceled && len(set.Failures) == 0
	set.FinishedAt = e.now().UTC()
	p.emit(ProgressEvent{
		Step:    StepComplete,
		Message: fmt.Sprintf("Collected %d articles", len(set.Articles)),
		Page:    -1,
		Done:    set.FetchedPages,
		Total:   set.RequestedPages,
		Content: set,
	})
	if e.recorder != nil && set.Account != nil {
		if err := e.recorder.RecordSearch(context.WithoutCancel(ctx), set); err != nil {
			e.logger.Warn("failed to record search", zap.String("search_id", set.ID), zap.Error(err))
		}
	}
	return set
}

func (e *Engine) resolveAccount(ctx context.Context, opts SearchOptions) (*types.Account, error) {
	if opts.FakeID != "" {
		return &types.Account{FakeID: opts.FakeID, Nickname: strings.TrimSpace(opts.Query)}, nil
	}
	query := strings.TrimSpace(opts.Query)
	accounts, err := e.SearchAccounts(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%q: %w", query, ErrAccountNotFound)
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Nickname, query) || strings.EqualFold(a.Alias, query) {
			return &a, nil
		}
	}
	return &accounts[0], nil
}

// fetchPages submits pages 0..n-1 at once. A page that ends the listing, by
// being empty, reaching the reported total or predating since, cancels the
// pages after it that have not been dispatched yet.
func (e *Engine) fetchPages(ctx context.Context, fakeID string, n int, since time.Time, p *progress) []pageResult {
	results := make([]pageResult, n)
	ctxs := make([]context.Context, n)
	cancels := make([]context.CancelFunc, n)
	for i := range n {
		ctxs[i], cancels[i] = context.WithCancel(ctx)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	var mu sync.Mutex
	end := n
	stopAfter := func(page int) {
		mu.Lock()
		defer mu.Unlock()
		for i := page + 1; i < end; i++ {
			cancels[i]()
		}
		end = min(end, page+1)
	}
	pastEnd := func(page int) bool {
		mu.Lock()
		defer mu.Unlock()
		return page >= end
	}

	var g errgroup.Group
	for page := range n {
		g.Go(func() error {
			listing, err := e.ListingPage(ctxs[page], fakeID, page)
			switch {
			case err != nil && pastEnd(page) && ctx.Err() == nil:
				results[page] = pageResult{skipped: true}
			case err != nil:
				results[page] = pageResult{err: err}
				p.emit(ProgressEvent{Step: StepPageFailed, Page: page, Message: err.Error()})
			default:
				results[page] = pageResult{listing: listing}
				if endsListing(listing, since) {
					stopAfter(page)
				}
				p.emit(ProgressEvent{
					Step:    StepPage,
					Page:    page,
					Message: fmt.Sprintf("Fetched page %d with %d articles", page+1, len(listing.Articles)),
					Done:    len(listing.Articles),
					Total:   listing.Total,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	// Pages dispatched before the end was known may still have completed.
	for page := range results {
		if pastEnd(page) && results[page].listing == nil {
			results[page] = pageResult{skipped: true}
		}
	}
	return results
}

func endsListing(l *types.ListingPage, since time.Time) bool {
	if len(l.Articles) == 0 {
		return true
	}
	if l.Total > 0 && (l.Page+1)*fetch.PageSize >= l.Total {
		return true
	}
	if since.IsZero() {
		return false
	}
	// Listings run newest first, so a page whose newest article predates
	// since is the last one worth reading.
	for _, rec := range l.Articles {
		if rec.PublishedAt.IsZero() || !rec.PublishedAt.Before(since) {
			return false
		}
	}
	return true
}

// fetchContents fetches every article body. Failures are recorded per
// article and the record keeps its listing fields.
func (e *Engine) fetchContents(ctx context.Context, set *types.SearchResultSet, p *progress) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		done int
	)
	total := len(set.Articles)
	for i := range set.Articles {
		rec := &set.Articles[i]
		g.Go(func() error {
			full, err := e.FetchArticle(ctx, rec.URL)

			mu.Lock()
			done++
			n := done
			if err != nil {
				set.Failures = append(set.Failures, types.PageFailure{
					Page:  rec.Rank / fetch.PageSize,
					URL:   rec.URL,
					Kind:  fetch.Classify(err),
					Error: err.Error(),
				})
			}
			mu.Unlock()

			if err != nil {
				p.emit(ProgressEvent{Step: StepArticleFailed, Page: -1, URL: rec.URL, Message: err.Error(), Done: n, Total: total})
				return nil
			}
			rec.MergeContent(full)
			p.emit(ProgressEvent{Step: StepArticle, Page: -1, URL: rec.URL, Message: rec.Title, Done: n, Total: total})
			return nil
		})
	}
	_ = g.Wait()

	// Page failures first, in page order, then articles by URL.
	sort.SliceStable(set.Failures, func(i, j int) bool {
		a, b := set.Failures[i], set.Failures[j]
		if (a.Page < 0) != (b.Page < 0) {
			return b.Page < 0
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.URL < b.URL
	})
	if ctx.Err() != nil {
		set.Canceled = true
	}
}
