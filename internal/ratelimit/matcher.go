package ratelimit

import "strings"

// unlimited is returned for routes that are never limited.
var unlimited = EndpointConfig{}

// MatchEndpoint returns the configuration governing method and path, or nil
// when the default limit applies. An exact path wins over a prefix entry
// (a Path ending in "/"), and a longer prefix wins over a shorter one.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if method == "GET" && path == "/health" {
		return &unlimited
	}

	var best *EndpointConfig
	for i := range configs {
		c := &configs[i]
		if c.Method != method {
			continue
		}
		if c.Path == path {
			return c
		}
		if strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			if best == nil || len(c.Path) > len(best.Path) {
				best = c
			}
		}
	}
	return best
}
