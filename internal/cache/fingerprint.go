package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/purell"
)

// volatileParams never take part in a fingerprint: they change with the
// session or the request, not with the content being asked for.
var volatileParams = map[string]bool{
	"token":  true,
	"lang":   true,
	"f":      true,
	"ajax":   true,
	"random": true,
}

// Fingerprint derives the cache key for an endpoint and its parameters.
// Parameters already present in endpoint's query string are merged with params.
func Fingerprint(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint %q: %w", endpoint, err)
	}

	merged := url.Values{}
	for k, vs := range u.Query() {
		merged[k] = append(merged[k], vs...)
	}
	for k, vs := range params {
		merged[k] = append(merged[k], vs...)
	}
	for k := range merged {
		if volatileParams[k] {
			delete(merged, k)
		}
	}
	u.RawQuery = merged.Encode()

	normalized := purell.NormalizeURL(
		u,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeNonGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
