// Package types provides type definitions for structured data used throughout the mp-harvester system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// Image is an image referenced by an article body. The body refers to it
// through LocalName so offline copies survive expiry of the source URL.
type Image struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	LocalName string `json:"local_name"`
}

// ArticleRecord is a single extracted article. Records are keyed by URL.
type ArticleRecord struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Author      string    `json:"author,omitempty"`
	Account     string    `json:"account,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Cover       string    `json:"cover,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Body        string    `json:"body"`
	Images      []Image   `json:"images"`
	Rank        int       `json:"rank"`

	// Empty is set when no body text could be extracted. The record is kept
	// so callers still get link and title data.
	Empty bool `json:"empty"`
	// Degraded is set when parsing succeeded but some fields were not found.
	Degraded bool     `json:"degraded"`
	Missing  []string `json:"missing,omitempty"`
}

// HasContent reports whether the record carries extracted body text.
func (r *ArticleRecord) HasContent() bool {
	return r != nil && !r.Empty && r.Body != ""
}

// MergeContent copies the extracted page fields of full onto r, keeping the
// listing-level fields (rank, digest, cover) r already carries.
func (r *ArticleRecord) MergeContent(full *ArticleRecord) {
	if full == nil {
		return
	}
	if full.Title != "" && !containsString(full.Missing, "title") {
		r.Title = full.Title
	}
	if r.PublishedAt.IsZero() {
		r.PublishedAt = full.PublishedAt
	}
	if full.Author != "" {
		r.Author = full.Author
	}
	if full.Account != "" {
		r.Account = full.Account
	}
	if r.Digest == "" {
		r.Digest = full.Digest
	}
	r.Tags = full.Tags
	r.Body = full.Body
	r.Images = full.Images
	r.Empty = full.Empty
	r.Degraded = full.Degraded
	r.Missing = full.Missing
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
