package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mp-harvester/fetch")

const maxRedirects = 10

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() Options {
	return Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// Client performs single requests against the platform. It holds no session
// state; every Request carries its own snapshot.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetHeader("Referer", DefaultBaseURL+"/")
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(stopAtLogin))
	instrument(client)

	return &Client{http: client, logger: opts.Logger, now: time.Now}
}

// stopAtLogin follows ordinary redirects but hands a bounce to the login page
// back to the caller so it can be reported as an expired session.
func stopAtLogin(req *http.Request, via []*http.Request) error {
	if isLoginLocation(req.URL) {
		return http.ErrUseLastResponse
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// Do sends req once. Errors are *TransientError, *ClientError, ErrAuthExpired
// or *Error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return nil, &Error{URL: req.URL, Message: "invalid URL", Cause: err}
	}

	r := c.http.R().SetContext(ctx)
	if len(req.Params) > 0 {
		r.SetQueryParamsFromValues(req.Params)
	}
	if req.Session != nil {
		r.SetHeader("Cookie", req.Session.Credential.CookieHeader())
		if req.Kind.Authenticated() {
			r.SetQueryParam("token", req.Session.Token())
		}
	} else if req.Kind.Authenticated() {
		return nil, fmt.Errorf("%s request without a session: %w", req.Kind, ErrAuthExpired)
	}

	res, err := r.Get(req.URL)
	if err != nil {
		return nil, transportError(req.URL, err)
	}

	if err := checkStatus(req, res); err != nil {
		c.logger.Debug("request rejected",
			zap.String("url", req.URL),
			zap.Int("status", res.StatusCode()),
			zap.Error(err),
		)
		return nil, err
	}

	return &Response{
		URL:         req.URL,
		Kind:        req.Kind,
		Page:        req.Page,
		StatusCode:  res.StatusCode(),
		ContentType: res.Header().Get("Content-Type"),
		Body:        res.Body(),
		FetchedAt:   c.now(),
		Attempts:    1,
	}, nil
}

func checkStatus(req *Request, res *resty.Response) error {
	status := res.StatusCode()
	switch {
	case status >= 300 && status < 400:
		loc, _ := url.Parse(res.Header().Get("Location"))
		if isLoginLocation(loc) {
			return fmt.Errorf("redirected to login: %w", ErrAuthExpired)
		}
		return &ClientError{URL: req.URL, Status: status, Message: fmt.Sprintf("unexpected redirect (HTTP %d)", status)}
	case status == http.StatusUnauthorized:
		return fmt.Errorf("HTTP %d: %w", status, ErrAuthExpired)
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{URL: req.URL, Status: status, Message: fmt.Sprintf("HTTP status %d", status)}
	case status >= 400:
		return &ClientError{URL: req.URL, Status: status, Message: fmt.Sprintf("HTTP status %d", status)}
	}

	if req.Kind.Authenticated() {
		return checkBaseResp(req.URL, res.Body())
	}
	return nil
}

type baseResp struct {
	BaseResp *struct {
		Ret    int    `json:"ret"`
		ErrMsg string `json:"err_msg"`
	} `json:"base_resp"`
}

// checkBaseResp inspects the platform's in-band status on JSON endpoints.
func checkBaseResp(rawURL string, body []byte) error {
	var br baseResp
	if err := json.Unmarshal(body, &br); err != nil {
		return &ClientError{URL: rawURL, Status: http.StatusOK, Message: "response is not JSON"}
	}
	if br.BaseResp == nil {
		return nil
	}

	ret, msg := br.BaseResp.Ret, br.BaseResp.ErrMsg
	switch ret {
	case retOK:
		return nil
	case retInvalidSession, retLoginRequired, retSessionExpired:
		return fmt.Errorf("base_resp ret=%d %s: %w", ret, msg, ErrAuthExpired)
	case retFreqControl:
		return &TransientError{URL: rawURL, Status: http.StatusOK, Message: fmt.Sprintf("frequency control (ret=%d)", ret)}
	default:
		return &ClientError{URL: rawURL, Status: http.StatusOK, Message: fmt.Sprintf("base_resp ret=%d %s", ret, strings.TrimSpace(msg))}
	}
}

// instrument wraps every request in a span.
func instrument(client *resty.Client) {
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		ctx, _ := tracer.Start(req.Context(), "http "+req.Method)
		req.SetContext(ctx)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		span := trace.SpanFromContext(res.Request.Context())
		defer span.End()
		span.SetAttributes(
			attribute.String("http.url", res.Request.URL),
			attribute.Int("http.status_code", res.StatusCode()),
		)
		if res.StatusCode() >= 500 {
			span.SetStatus(codes.Error, res.Status())
		}
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		span := trace.SpanFromContext(req.Context())
		defer span.End()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	})
}
