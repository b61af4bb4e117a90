package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// articleParams are the query parameters that identify an article; the rest
// are share and session tracking.
var articleParams = []string{"__biz", "mid", "idx", "sn"}

// CanonicalURL strips tracking parameters and fragments from an article link
// so the same article always maps to the same key.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(DecodeEntities(raw))
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	if strings.EqualFold(u.Host, "mp.weixin.qq.com") {
		u.Scheme = "https"
		u.Host = "mp.weixin.qq.com"
		switch {
		case strings.HasPrefix(u.Path, "/s/"):
			u.RawQuery = ""
		case u.Path == "/s":
			q := u.Query()
			keep := url.Values{}
			for _, k := range articleParams {
				if v := q.Get(k); v != "" {
					keep.Set(k, v)
				}
			}
			u.RawQuery = keep.Encode()
		}
	}
	return u.String()
}

// Slug derives a short stable name for an article from its URL.
func Slug(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		if strings.HasPrefix(u.Path, "/s/") {
			if s := strings.Trim(u.Path[len("/s/"):], "/"); s != "" {
				return s
			}
		}
		q := u.Query()
		if mid := q.Get("mid"); mid != "" {
			if idx := q.Get("idx"); idx != "" {
				return mid + "-" + idx
			}
			return mid
		}
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:4])
}

// PlaceholderTitle is the title used when a page has none.
func PlaceholderTitle(raw string) string {
	return "Untitled " + Slug(raw)
}

// NormalizeImageURL resolves entities and protocol-relative links. It returns
// "" for inline data and non-HTTP sources.
func NormalizeImageURL(src string) string {
	src = strings.TrimSpace(DecodeEntities(src))
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return ""
	}
	return src
}

// imageBase drops the query and fragment; variants of one image share a base.
func imageBase(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		return src[:i]
	}
	return src
}

// ImageID returns the stable identifier of an image: a UUIDv5 of its URL
// without the query string.
func ImageID(src string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(imageBase(src))).String()
}

// imageExt guesses the file extension from the platform's format hint.
func imageExt(src string) string {
	format := ""
	if u, err := url.Parse(src); err == nil {
		format = strings.ToLower(u.Query().Get("wx_fmt"))
		if format == "" {
			format = strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		}
	}
	switch format {
	case "png", "gif", "webp", "bmp":
		return format
	default:
		return "jpg"
	}
}
