package acquire

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/mp-harvester/internal/types"
)

func titles(set *types.SearchResultSet) []string {
	out := make([]string, 0, len(set.Articles))
	for _, a := range set.Articles {
		out = append(out, a.Title)
	}
	return out
}

func TestEngine_Search_CollectsAllPages(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.total = 23 })

	set, err := h.engine.Search(context.Background(), SearchOptions{Query: "Gopher Weekly", MaxPages: 10})
	require.NoError(t, err)

	assert.NotEmpty(t, set.ID)
	require.NotNil(t, set.Account)
	assert.Equal(t, "FAKE1", set.Account.FakeID)
	assert.Equal(t, 10, set.RequestedPages)
	assert.GreaterOrEqual(t, set.FetchedPages, 5)
	require.Len(t, set.Articles, 23)
	for i, a := range set.Articles {
		assert.Equal(t, i, a.Rank)
		assert.Equal(t, publishedAt(i), a.PublishedAt)
	}
	assert.True(t, set.Completed)
	assert.False(t, set.Canceled)
	assert.Empty(t, set.Failures)
	assert.False(t, set.FinishedAt.Before(set.StartedAt))
}

func TestEngine_Search_PageFailureIsPartial(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.failPage = 3 })

	set, err := h.engine.Search(context.Background(), SearchOptions{Query: "Gopher Weekly", MaxPages: 5})
	require.NoError(t, err)

	assert.Equal(t, 4, set.FetchedPages)
	assert.Len(t, set.Articles, 20)
	for _, a := range set.Articles {
		assert.False(t, a.Rank >= 15 && a.Rank < 20, "page 3 article %d present", a.Rank)
	}
	require.Len(t, set.Failures, 1)
	assert.Equal(t, 3, set.Failures[0].Page)
	assert.Equal(t, types.FailureClient, set.Failures[0].Kind)
	assert.False(t, set.Completed)
}

func TestEngine_Search_TotalFailureReturnsError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.failPage = 0 })

	set, err := h.engine.Search(context.Background(), SearchOptions{Query: "Gopher Weekly", MaxPages: 1})
	require.Error(t, err)
	require.NotNil(t, set)
	assert.Zero(t, set.FetchedPages)
	assert.Len(t, set.Failures, 1)
}

func TestEngine_Search_DateRange(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.total = 20 })

	set, err := h.engine.Search(context.Background(), SearchOptions{
		Query:    "Gopher Weekly",
		MaxPages: 4,
		Since:    publishedAt(6),
		Until:    publishedAt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Article 2", "Article 3", "Article 4", "Article 5", "Article 6"}, titles(set))
	assert.True(t, set.Completed)
}

func TestEndsListing(t *testing.T) {
	page := func(n, total int, idx ...int) *types.ListingPage {
		l := &types.ListingPage{Page: n, Total: total}
		for _, i := range idx {
			l.Articles = append(l.Articles, types.ArticleRecord{PublishedAt: publishedAt(i)})
		}
		return l
	}

	tests := []struct {
		name    string
		listing *types.ListingPage
		since   time.Time
		want    bool
	}{
		{"empty page", page(2, 0), time.Time{}, true},
		{"more to come", page(0, 100, 0, 1, 2, 3, 4), time.Time{}, false},
		{"reaches total", page(1, 10, 5, 6, 7, 8, 9), time.Time{}, true},
		{"unknown total", page(1, 0, 5, 6), time.Time{}, false},
		{"older than since", page(2, 100, 10, 11), publishedAt(8), true},
		{"straddles since", page(1, 100, 5, 6, 7), publishedAt(6), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endsListing(tt.listing, tt.since))
		})
	}
}

func TestEngine_Search_IncludeContentAndKeyword(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.total = 8 })

	set, err := h.engine.Search(context.Background(), SearchOptions{
		Query:          "Gopher Weekly",
		MaxPages:       2,
		IncludeContent: true,
		Keyword:        "SCHEDULER",
	})
	require.NoError(t, err)

	require.Len(t, set.Articles, 1)
	a := set.Articles[0]
	assert.Equal(t, "Article 3", a.Title)
	assert.Equal(t, "Li Lei", a.Author)
	assert.Equal(t, "digest 3", a.Digest)
	assert.Equal(t, 3, a.Rank)
	assert.Equal(t, "Body of article 3 about the Go scheduler.", a.Body)
	assert.Equal(t, int64(8), h.platform.articles.Load())
	assert.True(t, set.Completed)
}

func TestEngine_Search_ArticleFailureIsRecorded(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		maxPages int
		failIdx  int
		wantPage int
	}{
		{"first page", 5, 1, 1, 0},
		{"third page", 15, 3, 12, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			h.platform.configure(func(p *fakePlatform) {
				p.total = tt.total
				p.failArticles[fmt.Sprintf("/s/a%d", tt.failIdx)] = true
			})

			set, err := h.engine.Search(context.Background(), SearchOptions{Query: "Gopher Weekly", MaxPages: tt.maxPages, IncludeContent: true})
			require.NoError(t, err)

			require.Len(t, set.Articles, tt.total)
			failed := set.Articles[tt.failIdx]
			assert.Equal(t, fmt.Sprintf("Article %d", tt.failIdx), failed.Title)
			assert.Empty(t, failed.Body)
			assert.NotEmpty(t, set.Articles[0].Body)

			require.Len(t, set.Failures, 1)
			assert.Equal(t, tt.wantPage, set.Failures[0].Page)
			assert.Equal(t, h.platform.articleURL(tt.failIdx), set.Failures[0].URL)
			assert.Equal(t, types.FailureClient, set.Failures[0].Kind)
			assert.False(t, set.Completed)
		})
	}
}

func TestEngine_Search_ProgressEvents(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.total = 10 })

	var events []ProgressEvent
	set, err := h.engine.Search(context.Background(), SearchOptions{
		Query:      "Gopher Weekly",
		MaxPages:   2,
		OnProgress: func(ev ProgressEvent) { events = append(events, ev) },
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, StepAccount, events[0].Step)
	assert.Equal(t, StepComplete, events[len(events)-1].Step)
	pages := 0
	for _, ev := range events {
		assert.Equal(t, set.ID, ev.SearchID)
		if ev.Step == StepPage {
			pages++
		}
	}
	assert.Equal(t, set.FetchedPages, pages)
}

func TestEngine_Search_CancelReturnsPartialSet(t *testing.T) {
	h := newHarness(t, harnessOptions{interval: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set, err := h.engine.Search(ctx, SearchOptions{
		Query:    "Gopher Weekly",
		MaxPages: 5,
		OnProgress: func(ev ProgressEvent) {
			if ev.Step == StepPage {
				cancel()
			}
		},
	})
	require.NoError(t, err)

	assert.True(t, set.Canceled)
	assert.False(t, set.Completed)
	assert.GreaterOrEqual(t, set.FetchedPages, 1)
	assert.Less(t, set.FetchedPages, 5)
	for _, f := range set.Failures {
		assert.Equal(t, types.FailureCanceled, f.Kind)
	}
}

func TestEngine_Search_UnknownAccount(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	set, err := h.engine.Search(context.Background(), SearchOptions{Query: "missing"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Nil(t, set)
}

func TestEngine_Search_ByFakeIDSkipsAccountSearch(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.total = 3 })

	set, err := h.engine.Search(context.Background(), SearchOptions{FakeID: "FAKE1", MaxPages: 1})
	require.NoError(t, err)
	assert.Len(t, set.Articles, 3)
	assert.Equal(t, "FAKE1", set.Query)
	assert.Zero(t, h.platform.searches.Load())
}

type fakeRecorder struct {
	mu   sync.Mutex
	sets []*types.SearchResultSet
}

func (r *fakeRecorder) RecordSearch(_ context.Context, set *types.SearchResultSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, set)
	return nil
}

func TestEngine_Search_RecordsHistory(t *testing.T) {
	rec := &fakeRecorder{}
	h := newHarness(t, harnessOptions{recorder: rec})
	h.platform.configure(func(p *fakePlatform) { p.total = 3 })

	set, err := h.engine.Search(context.Background(), SearchOptions{Query: "Gopher Weekly", MaxPages: 1})
	require.NoError(t, err)
	require.Len(t, rec.sets, 1)
	assert.Same(t, set, rec.sets[0])
}

func TestEngine_ScrapeAccounts(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.platform.configure(func(p *fakePlatform) { p.total = 5 })

	sets, err := h.engine.ScrapeAccounts(context.Background(), []string{"Gopher Weekly", "missing"}, SearchOptions{MaxPages: 1})
	require.NoError(t, err)
	require.Len(t, sets, 2)

	assert.True(t, sets[0].Completed)
	assert.Len(t, sets[0].Articles, 5)

	assert.Equal(t, "missing", sets[1].Query)
	assert.False(t, sets[1].Completed)
	require.Len(t, sets[1].Failures, 1)
	assert.Equal(t, -1, sets[1].Failures[0].Page)
}

func TestEngine_ScrapeAccounts_AllFailed(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	sets, err := h.engine.ScrapeAccounts(context.Background(), []string{"missing", "missing"}, SearchOptions{MaxPages: 1})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Len(t, sets, 2)
}
