package ratelimit

import "time"

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	EndpointConfigs []EndpointConfig
}

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// DefaultConfig returns a config allowing perMinute requests per client and
// endpoint, with stricter limits on the endpoints that start acquisitions.
// perMinute <= 0 disables limiting.
func DefaultConfig(perMinute int) *Config {
	if perMinute <= 0 {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    perMinute,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Acquisitions fan out to the platform; keep them scarce.
		{Path: "/searches/stream", Method: "POST", Limit: 10, Window: time.Minute, Burst: 2},
		{Path: "/session/login", Method: "POST", Limit: 3, Window: time.Minute, Burst: 1},
		{Path: "/accounts", Method: "GET", Limit: 30, Window: time.Minute, Burst: 5},
		{Path: "/cache/", Method: "DELETE", Limit: 60, Window: time.Minute, Burst: 10},
	}
}
