package fetch

import (
	"net/url"
	"strings"
)

// Endpoint paths on the platform origin.
const (
	SearchBizPath = "/cgi-bin/searchbiz"
	AppMsgPath    = "/cgi-bin/appmsg"
)

// Rate-limit targets. Every distinct endpoint is spaced independently.
const (
	TargetSearchBiz = "searchbiz"
	TargetAppMsg    = "appmsg"
	TargetArticle   = "article"
)

// TargetFor maps a URL to its rate-limit target. Unknown URLs are keyed by host.
func TargetFor(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	path := strings.ToLower(parsed.Path)
	switch {
	case strings.HasSuffix(path, SearchBizPath):
		return TargetSearchBiz
	case strings.HasSuffix(path, AppMsgPath):
		return TargetAppMsg
	case strings.HasPrefix(path, "/s/") || path == "/s":
		return TargetArticle
	}
	return strings.ToLower(parsed.Host)
}

// IsArticleURL reports whether rawURL looks like a public article link.
func IsArticleURL(rawURL string) bool {
	return DefaultEndpoints().IsArticleURL(rawURL)
}

// IsArticleURL reports whether rawURL is an article link on the platform or
// on e's origin.
func (e Endpoints) IsArticleURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Host)
	if host != "mp.weixin.qq.com" {
		base, err := url.Parse(e.base())
		if err != nil || !strings.EqualFold(base.Host, host) {
			return false
		}
	}
	return parsed.Path == "/s" || strings.HasPrefix(parsed.Path, "/s/")
}

// isLoginLocation reports whether a redirect target is the login page. An
// expired session on an API call bounces to the platform root or a login path.
func isLoginLocation(u *url.URL) bool {
	if u == nil {
		return false
	}
	path := strings.TrimSuffix(u.Path, "/")
	if path == "" || strings.Contains(strings.ToLower(path), "login") {
		return true
	}
	return u.Query().Get("action") == "login"
}
