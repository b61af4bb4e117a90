// Package fetch performs platform requests: the resty-backed Client speaks to
// the MP endpoints and the Scheduler spaces and bounds those requests.
package fetch

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jonathan/mp-harvester/internal/session"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent mimics a desktop browser; the platform serves reduced
// pages to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultBaseURL is the platform origin.
const DefaultBaseURL = "https://mp.weixin.qq.com"

// PageSize is the number of articles the listing endpoint returns per page.
const PageSize = 5

// Kind is the type of content a request asks for.
type Kind string

const (
	// KindAccountSearch is a searchbiz call returning matching accounts.
	KindAccountSearch Kind = "account_search"
	// KindArticleList is an appmsg call returning one listing page.
	KindArticleList Kind = "article_list"
	// KindArticle is a public article page.
	KindArticle Kind = "article"
)

// Authenticated reports whether requests of this kind need the session token.
func (k Kind) Authenticated() bool {
	return k == KindAccountSearch || k == KindArticleList
}

// Priority orders requests within a target queue. Lower runs first.
type Priority int

const (
	// PrioritySearch is used for account search and listing pages.
	PrioritySearch Priority = 0
	// PriorityArticle is used for article bodies.
	PriorityArticle Priority = 1
)

// Request is a single platform call. It must not be modified after Submit.
type Request struct {
	Kind     Kind
	Target   string // rate-limit key; derived from URL when empty
	URL      string
	Params   url.Values
	Page     int // listing page cursor, -1 when not paged
	Priority Priority
	Session  *session.Session // snapshot used for cookies and token
}

// TargetKey returns the rate-limit key of the request.
func (r *Request) TargetKey() string {
	if r.Target != "" {
		return r.Target
	}
	return TargetFor(r.URL)
}

// FullURL returns URL with Params applied, without the session token.
func (r *Request) FullURL() string {
	if len(r.Params) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for k, vs := range r.Params {
		q[k] = append(q[k], vs...)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Response is the raw outcome of a successful request.
type Response struct {
	URL         string
	Kind        Kind
	Page        int
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
	Attempts    int
}

// Error represents a request that could not be built or read.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Endpoints builds requests against a platform origin. Tests point it at an
// httptest server.
type Endpoints struct {
	BaseURL string
}

// DefaultEndpoints targets the live platform.
func DefaultEndpoints() Endpoints {
	return Endpoints{BaseURL: DefaultBaseURL}
}

func (e Endpoints) base() string {
	if e.BaseURL == "" {
		return DefaultBaseURL
	}
	return e.BaseURL
}

// SearchAccounts builds a searchbiz request for query.
func (e Endpoints) SearchAccounts(s *session.Session, query string) *Request {
	return &Request{
		Kind:   KindAccountSearch,
		Target: TargetSearchBiz,
		URL:    e.base() + SearchBizPath,
		Params: url.Values{
			"action": {"search_biz"},
			"begin":  {"0"},
			"count":  {"10"},
			"query":  {query},
			"lang":   {"zh_CN"},
			"f":      {"json"},
			"ajax":   {"1"},
		},
		Page:     -1,
		Priority: PrioritySearch,
		Session:  s,
	}
}

// ArticleList builds the appmsg request for page (zero-based) of fakeID's
// published articles.
func (e Endpoints) ArticleList(s *session.Session, fakeID string, page int) *Request {
	return &Request{
		Kind:   KindArticleList,
		Target: TargetAppMsg,
		URL:    e.base() + AppMsgPath,
		Params: url.Values{
			"action": {"list_ex"},
			"begin":  {strconv.Itoa(page * PageSize)},
			"count":  {strconv.Itoa(PageSize)},
			"fakeid": {fakeID},
			"type":   {"9"},
			"query":  {""},
			"lang":   {"zh_CN"},
			"f":      {"json"},
			"ajax":   {"1"},
		},
		Page:     page,
		Priority: PrioritySearch,
		Session:  s,
	}
}

// Article builds a request for a public article page.
func Article(articleURL string) *Request {
	return &Request{
		Kind:     KindArticle,
		Target:   TargetArticle,
		URL:      articleURL,
		Page:     -1,
		Priority: PriorityArticle,
	}
}
