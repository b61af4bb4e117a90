// Package session owns the authenticated platform session: interactive QR
// login, credential persistence, expiry, and collapsed re-authentication.
package session

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// RequiredCookies are the cookies a usable platform session carries.
var RequiredCookies = []string{"slave_sid", "slave_user", "data_ticket"}

// Credential is the HTTP-capable part of a session. Its JSON form is the
// credential file format and the payload of share codes.
type Credential struct {
	Token     string            `json:"token"`
	Cookies   map[string]string `json:"cookies"`
	Timestamp float64           `json:"timestamp"` // unix seconds
}

// NewCredential stamps token and cookies with at.
func NewCredential(token string, cookies map[string]string, at time.Time) Credential {
	return Credential{
		Token:     token,
		Cookies:   cookies,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
	}
}

// AcquiredAt returns Timestamp as a time.Time.
func (c Credential) AcquiredAt() time.Time {
	sec, frac := math.Modf(c.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Validate checks that the credential has every field a request needs.
func (c Credential) Validate() error {
	var missing []string
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if len(c.Cookies) == 0 {
		missing = append(missing, "cookies")
	}
	if c.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("credential missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MissingCookies lists RequiredCookies absent from the credential. Sessions
// without them usually fail at the first API call.
func (c Credential) MissingCookies() []string {
	var missing []string
	for _, name := range RequiredCookies {
		if c.Cookies[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// CookieHeader renders the cookies as a Cookie header value, sorted by name.
func (c Credential) CookieHeader() string {
	names := make([]string, 0, len(c.Cookies))
	for name := range c.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+c.Cookies[name])
	}
	return strings.Join(parts, "; ")
}
