package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/mp-harvester/internal/cache"
	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/retry"
	"github.com/jonathan/mp-harvester/internal/session"
)

// newest is the publish time of article 0; each later article is a day older.
var newest = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func publishedAt(idx int) time.Time {
	return newest.Add(-time.Duration(idx) * 24 * time.Hour)
}

// fakePlatform serves searchbiz, appmsg and article pages.
type fakePlatform struct {
	server *httptest.Server

	mu         sync.Mutex
	validToken string
	total      int
	failPage   int
	// emptyFirst makes the first N responses for an article path empty.
	emptyFirst map[string]int
	// failArticles answers these article paths with 404.
	failArticles map[string]bool
	// articleGate, when set, blocks article responses until closed.
	articleGate chan struct{}
	entered     chan struct{}

	searches atomic.Int64
	listings atomic.Int64
	articles atomic.Int64
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		validToken:   "fresh",
		total:        100,
		failPage:     -1,
		emptyFirst:   make(map[string]int),
		failArticles: make(map[string]bool),
		entered:      make(chan struct{}, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(fetch.SearchBizPath, p.searchBiz)
	mux.HandleFunc(fetch.AppMsgPath, p.appMsg)
	mux.HandleFunc("/s/", p.article)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePlatform) authorized(w http.ResponseWriter, r *http.Request) bool {
	p.mu.Lock()
	valid := p.validToken
	p.mu.Unlock()
	if r.URL.Query().Get("token") != valid {
		_, _ = w.Write([]byte(`{"base_resp":{"ret":200003,"err_msg":"invalid session"}}`))
		return false
	}
	return true
}

func (p *fakePlatform) searchBiz(w http.ResponseWriter, r *http.Request) {
	p.searches.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if !p.authorized(w, r) {
		return
	}
	if r.URL.Query().Get("query") == "missing" {
		_, _ = w.Write([]byte(`{"base_resp":{"ret":0},"list":[],"total":0}`))
		return
	}
	_, _ = w.Write([]byte(`{"base_resp":{"ret":0},"list":[
		{"fakeid":"OTHER","nickname":"Gopher Weekly Fans"},
		{"fakeid":"FAKE1","nickname":"Gopher Weekly","alias":"gopherweekly"}
	],"total":2}`))
}

func (p *fakePlatform) appMsg(w http.ResponseWriter, r *http.Request) {
	p.listings.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if !p.authorized(w, r) {
		return
	}
	begin, _ := strconv.Atoi(r.URL.Query().Get("begin"))

	p.mu.Lock()
	total, failPage := p.total, p.failPage
	p.mu.Unlock()
	if begin/fetch.PageSize == failPage {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var items []string
	for idx := begin; idx < min(begin+fetch.PageSize, total); idx++ {
		items = append(items, fmt.Sprintf(
			`{"title":"Article %d","link":"%s/s/a%d","update_time":%d,"digest":"digest %d"}`,
			idx, p.server.URL, idx, publishedAt(idx).Unix(), idx))
	}
	fmt.Fprintf(w, `{"base_resp":{"ret":0},"app_msg_cnt":%d,"app_msg_list":[%s]}`, total, strings.Join(items, ","))
}

func (p *fakePlatform) article(w http.ResponseWriter, r *http.Request) {
	p.articles.Add(1)
	select {
	case p.entered <- struct{}{}:
	default:
	}
	p.mu.Lock()
	gate, missing := p.articleGate, p.failArticles[r.URL.Path]
	empty := p.emptyFirst[r.URL.Path] > 0
	if empty {
		p.emptyFirst[r.URL.Path]--
	}
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if missing {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	id := strings.TrimPrefix(r.URL.Path, "/s/a")
	if empty {
		fmt.Fprint(w, `<html><body><div id="js_content"></div></body></html>`)
		return
	}
	topic := "plain prose"
	if id == "3" {
		topic = "the Go scheduler"
	}
	fmt.Fprintf(w, `<html><head><meta name="author" content="Li Lei"></head><body>
<h1 class="rich_media_title">Article %s</h1>
<div id="js_content"><p>Body of article %s about %s.</p></div>
</body></html>`, id, id, topic)
}

// configure changes the platform's behavior under its lock.
func (p *fakePlatform) configure(fn func(p *fakePlatform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePlatform) articleURL(idx int) string {
	return fmt.Sprintf("%s/s/a%d", p.server.URL, idx)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

// fakeAuth logs in by handing out a fixed token.
type fakeAuth struct {
	token string
	calls atomic.Int64
}

func (a *fakeAuth) Login(_ context.Context) (session.Credential, error) {
	a.calls.Add(1)
	return testCredential(a.token), nil
}

func testCredential(token string) session.Credential {
	return session.NewCredential(token, map[string]string{
		"slave_sid": "sid", "slave_user": "user", "data_ticket": "ticket",
	}, time.Now())
}

type harness struct {
	platform *fakePlatform
	sched    *fetch.Scheduler
	sessions *session.Manager
	auth     *fakeAuth
	store    *cache.MemoryStore
	engine   *Engine
}

type harnessOptions struct {
	token    string
	interval time.Duration
	recorder Recorder
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.token == "" {
		opts.token = "fresh"
	}
	if opts.interval == 0 {
		opts.interval = -1
	}
	logger := zaptest.NewLogger(t)

	platform := newFakePlatform(t)
	sched := fetch.NewScheduler(fetch.NewClient(fetch.Options{Logger: logger}), fetch.SchedulerOptions{
		MaxWorkers: 5,
		Interval:   opts.interval,
		Retry:      fastPolicy(),
		Logger:     logger,
	})
	t.Cleanup(sched.Close)

	auth := &fakeAuth{token: "fresh"}
	sessions := session.NewManager(auth, nil, session.Options{Logger: logger})
	_, err := sessions.Import(testCredential(opts.token))
	require.NoError(t, err)

	store := cache.NewMemoryStore(256)
	engine := New(sessions, sched, store, Options{
		Endpoints: fetch.Endpoints{BaseURL: platform.server.URL},
		Retry:     fastPolicy(),
		Recorder:  opts.recorder,
		Logger:    logger,
	})
	return &harness{platform: platform, sched: sched, sessions: sessions, auth: auth, store: store, engine: engine}
}
