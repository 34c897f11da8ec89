// CLAUDE:SUMMARY Shared HTTP collaborator: per-request timeout, bounded exponential-backoff retries on 429/502/503/504, optional rate limiting, UpstreamError with raw body.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/french-cities/pkg/metrics"
)

// UpstreamError reports a failed or malformed upstream answer. Body holds the
// raw response for diagnosis.
type UpstreamError struct {
	Service string
	URL     string
	Status  int
	Body    []byte
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Service, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Body) > 0 {
		body := e.Body
		if len(body) > 512 {
			body = body[:512]
		}
		msg += fmt.Sprintf(" (body: %q)", body)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusNotFound
}

// IsBadRequest reports whether err is an upstream 400.
func IsBadRequest(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusBadRequest
}

// Client performs requests against one upstream service.
type Client struct {
	service     string
	hc          *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	limiter     *rate.Limiter
	userAgent   string
	logger      *slog.Logger
	proxyErr    error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.hc.Timeout = d } }

// WithMaxAttempts bounds the number of attempts (at least 1).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base and maximum delay between attempts.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) { c.baseDelay, c.maxDelay = base, maxDelay }
}

// WithRateLimit spaces requests to at most r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// ParseProxy validates a proxy URL of the form scheme://host[:port].
func ParseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy %q: expected scheme://host[:port]", raw)
	}
	return u, nil
}

// WithProxy routes requests through proxyURL. An empty value keeps the
// environment's http_proxy/https_proxy settings, and so does an invalid one,
// which New reports through the logger.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		if proxyURL == "" {
			return
		}
		u, err := ParseProxy(proxyURL)
		if err != nil {
			c.proxyErr = err
			return
		}
		c.hc.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
}

// New returns a Client for service with 5 attempts, 1s-10s backoff and a 30s timeout.
func New(service string, opts ...Option) *Client {
	c := &Client{
		service:     service,
		hc:          &http.Client{Timeout: 30 * time.Second, Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}},
		maxAttempts: 5,
		baseDelay:   time.Second,
		maxDelay:    10 * time.Second,
		userAgent:   "french-cities",
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.proxyErr != nil {
		c.logger.Error("invalid proxy ignored", "service", c.service, "error", c.proxyErr)
	}
	return c
}

// Service returns the service name used in errors and metrics.
func (c *Client) Service() string { return c.service }

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends the request built by newReq, rebuilding it for every attempt, and
// returns the body of the first 2xx answer. Retryable statuses and transport
// errors are retried; any other status fails immediately. Exhausted retries
// and non-2xx answers yield an *UpstreamError.
func (c *Client) Do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	var last *UpstreamError
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetriesTotal.WithLabelValues(c.service).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", c.service, err)
		}
		if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		metrics.UpstreamDurationMs.WithLabelValues(c.service).Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.UpstreamRequestsTotal.WithLabelValues(c.service, "network_error").Inc()
			last = &UpstreamError{Service: c.service, URL: req.URL.String(), Err: err}
			c.logger.Debug("upstream request failed", "service", c.service, "attempt", attempt+1, "error", err)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case readErr != nil:
			metrics.UpstreamRequestsTotal.WithLabelValues(c.service, "network_error").Inc()
			last = &UpstreamError{Service: c.service, URL: req.URL.String(), Status: resp.StatusCode, Err: readErr}
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			metrics.UpstreamRequestsTotal.WithLabelValues(c.service, "ok").Inc()
			return body, nil
		case retryable(resp.StatusCode):
			metrics.UpstreamRequestsTotal.WithLabelValues(c.service, strconv.Itoa(resp.StatusCode)).Inc()
			last = &UpstreamError{Service: c.service, URL: req.URL.String(), Status: resp.StatusCode, Body: body}
			c.logger.Debug("upstream request throttled", "service", c.service, "attempt", attempt+1, "status", resp.StatusCode)
			continue
		default:
			metrics.UpstreamRequestsTotal.WithLabelValues(c.service, strconv.Itoa(resp.StatusCode)).Inc()
			return nil, &UpstreamError{Service: c.service, URL: req.URL.String(), Status: resp.StatusCode, Body: body}
		}
	}
	last.Err = errors.Join(last.Err, fmt.Errorf("giving up after %d attempts", c.maxAttempts))
	return nil, last
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d <= 0 || d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
}

// GetJSON fetches rawURL and decodes the JSON answer into v. A body that does
// not decode is an *UpstreamError carrying the raw body.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, v any) error {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	body, err := c.Get(ctx, rawURL, h)
	if err != nil {
		return err
	}
	return c.DecodeJSON(rawURL, body, v)
}

// DecodeJSON unmarshals body into v, reporting failures as an *UpstreamError.
func (c *Client) DecodeJSON(rawURL string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &UpstreamError{Service: c.service, URL: rawURL, Body: body, Err: fmt.Errorf("decode json: %w", err)}
	}
	return nil
}
