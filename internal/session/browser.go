package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/retry"
)

// LoginURL is the platform console; it redirects to a URL carrying the
// session token once the QR code has been confirmed.
const LoginURL = "https://mp.weixin.qq.com/"

var tokenPattern = regexp.MustCompile(`token=(\d+)`)

// BrowserAuthenticator drives a visible Chrome window through the QR login.
// Requires Chrome/Chromium to be installed on the system.
type BrowserAuthenticator struct {
	LoginURL     string
	Headless     bool // the QR code must be visible, so normally false
	ExecPath     string
	UserAgent    string
	PollInterval time.Duration
	Retry        retry.Policy
	Logger       *zap.Logger
}

// NewBrowserAuthenticator returns an authenticator for the platform console.
func NewBrowserAuthenticator(policy retry.Policy, logger *zap.Logger) *BrowserAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserAuthenticator{
		LoginURL:     LoginURL,
		PollInterval: time.Second,
		Retry:        policy,
		Logger:       logger,
	}
}

// Login opens the login page and blocks until the user confirms the QR code
// or ctx is done. A deadline on ctx yields ErrAuthTimeout.
func (b *BrowserAuthenticator) Login(ctx context.Context) (Credential, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1100, 900),
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	if b.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.UserAgent))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	err := b.Retry.Do(ctx, func() error {
		if err := chromedp.Run(browserCtx, chromedp.Navigate(b.LoginURL)); err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}, func(err error, wait time.Duration) {
		b.Logger.Warn("login page did not load, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return Credential{}, loginErr(ctx, fmt.Errorf("failed to open login page: %w", err))
	}

	b.Logger.Info("waiting for QR code confirmation", zap.String("url", b.LoginURL))

	token, err := b.waitForToken(ctx, browserCtx)
	if err != nil {
		return Credential{}, loginErr(ctx, err)
	}

	var cookies []*network.Cookie
	err = chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return Credential{}, loginErr(ctx, fmt.Errorf("failed to read cookies: %w", err))
	}

	jar := make(map[string]string, len(cookies))
	for _, c := range cookies {
		jar[c.Name] = c.Value
	}
	b.Logger.Info("login confirmed", zap.Int("cookies", len(jar)))

	return NewCredential(token, jar, time.Now()), nil
}

// waitForToken polls the page location until it carries a token.
func (b *BrowserAuthenticator) waitForToken(ctx, browserCtx context.Context) (string, error) {
	interval := b.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var location string
		if err := chromedp.Run(browserCtx, chromedp.Location(&location)); err != nil {
			// The page is mid-navigation right after the scan; try again.
			if ctx.Err() == nil {
				b.Logger.Debug("location poll failed", zap.Error(err))
			}
		} else if token := TokenFromURL(location); token != "" {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// TokenFromURL extracts the session token from a console URL.
func TokenFromURL(u string) string {
	if !strings.Contains(u, "token=") {
		return ""
	}
	if m := tokenPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

func loginErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrAuthTimeout
	}
	return err
}
