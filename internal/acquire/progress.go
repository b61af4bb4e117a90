package acquire

import "sync"

// Progress steps reported during a search.
const (
	StepAccount       = "account"
	StepPage          = "page"
	StepPageFailed    = "page_failed"
	StepArticle       = "article"
	StepArticleFailed = "article_failed"
	StepComplete      = "complete"
)

// ProgressEvent represents a progress update during a search.
type ProgressEvent struct {
	SearchID string `json:"search_id"`
	Step     string `json:"step"`
	Message  string `json:"message"`
	Page     int    `json:"page"`
	URL      string `json:"url,omitempty"`
	Done     int    `json:"done,omitempty"`
	Total    int    `json:"total,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called when search progress occurs. Calls for one
// search never overlap.
type ProgressCallback func(event ProgressEvent)

type progress struct {
	mu       sync.Mutex
	searchID string
	fn       ProgressCallback
}

func newProgress(searchID string, fn ProgressCallback) *progress {
	return &progress{searchID: searchID, fn: fn}
}

func (p *progress) emit(ev ProgressEvent) {
	if p.fn == nil {
		return
	}
	ev.SearchID = p.searchID
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn(ev)
}
