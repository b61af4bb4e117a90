package acquire

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/mp-harvester/internal/types"
)

// inRange reports whether rec was published within [since, until]. Records
// without a publish time are kept.
func inRange(rec *types.ArticleRecord, since, until time.Time) bool {
	if rec.PublishedAt.IsZero() {
		return true
	}
	if !since.IsZero() && rec.PublishedAt.Before(since) {
		return false
	}
	if !until.IsZero() && rec.PublishedAt.After(until) {
		return false
	}
	return true
}

func matchesKeyword(rec *types.ArticleRecord, keyword string) bool {
	keyword = strings.ToLower(keyword)
	for _, field := range []string{rec.Title, rec.Digest, rec.Body} {
		if strings.Contains(strings.ToLower(field), keyword) {
			return true
		}
	}
	return false
}

// ParseDate parses a date bound given as YYYY-MM-DD (local time) or RFC 3339.
// A bare date used as an upper bound covers the whole day. An empty string
// yields the zero time.
func ParseDate(s string, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	if upper {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}
