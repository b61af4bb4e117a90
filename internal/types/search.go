package types

import "time"

// Failure kinds recorded on a SearchResultSet.
const (
	FailureTransient = "transient"
	FailureClient    = "client"
	FailureAuth      = "auth"
	FailureCanceled  = "canceled"
	FailureInternal  = "internal"
)

// PageFailure records a listing page or article that could not be acquired.
// For an article URL is set and Page is the listing page it was found on.
// Page is -1 when the failure is not tied to a listing page.
type PageFailure struct {
	Page  int    `json:"page"`
	URL   string `json:"url,omitempty"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// SearchResultSet is the outcome of one logical search.
type SearchResultSet struct {
	ID             string          `json:"id"`
	Query          string          `json:"query"`
	Account        *Account        `json:"account,omitempty"`
	RequestedPages int             `json:"requested_pages"`
	FetchedPages   int             `json:"fetched_pages"`
	Articles       []ArticleRecord `json:"articles"`
	Completed      bool            `json:"completed"`
	Canceled       bool            `json:"canceled"`
	Failures       []PageFailure   `json:"failures"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// ListingPage is one page of an account's article listing.
type ListingPage struct {
	Page     int             `json:"page"`
	Total    int             `json:"total"`
	Articles []ArticleRecord `json:"articles"`
}

// Account is an official account returned by account search.
type Account struct {
	Nickname  string `json:"nickname"`
	FakeID    string `json:"fakeid"`
	Alias     string `json:"alias,omitempty"`
	Signature string `json:"signature,omitempty"`
	HeadImage string `json:"head_image,omitempty"`
}
