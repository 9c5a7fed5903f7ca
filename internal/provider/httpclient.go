package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 15 * time.Second

	// Retry defaults for transient failures.
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second

	userAgent = "citegraph/1.0 (+https://github.com/matsen/citegraph)"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 8 << 20
)

// options holds settings shared by every client.
type options struct {
	baseURL         string
	httpClient      *http.Client
	apiKey          string
	mailto          string
	ratePerSec      float64
	burst           int
	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// Option configures a provider client.
type Option func(*options)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithAPIKey sets the API key for authenticated requests.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithMailto sets the contact address for polite-pool access.
func WithMailto(addr string) Option {
	return func(o *options) {
		o.mailto = addr
	}
}

// WithRateLimit sets the token bucket refill rate and burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(o *options) {
		o.ratePerSec = perSec
		o.burst = burst
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRetry sets the transient retry budget.
func WithRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(o *options) {
		o.maxAttempts = maxAttempts
		o.initialInterval = initial
		o.maxInterval = max
	}
}

func buildOptions(defaultBaseURL string, defaultRate float64, opts []Option) options {
	o := options{
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{},
		ratePerSec:      defaultRate,
		burst:           1,
		timeout:         DefaultTimeout,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.burst < 1 {
		o.burst = 1
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	return o
}

// transport is the rate-limited, retrying HTTP layer under each client.
type transport struct {
	name    string
	opts    options
	limiter *rate.Limiter
	headers http.Header
}

func newTransport(name string, o options) *transport {
	limit := rate.Inf
	if o.ratePerSec > 0 {
		limit = rate.Limit(o.ratePerSec)
	}
	return &transport{
		name:    name,
		opts:    o,
		limiter: rate.NewLimiter(limit, o.burst),
		headers: make(http.Header),
	}
}

// getJSON issues a GET and decodes the JSON body into out.
func (t *transport) getJSON(ctx context.Context, url string, out any) error {
	body, err := t.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", t.name, ErrInvalidResponse, err)
	}
	return nil
}

// get issues a GET with bounded retry for transient failures. Once the
// retry budget is exhausted a transient failure is reported as not found,
// still wrapping ErrTransient.
func (t *transport) get(ctx context.Context, url, accept string) ([]byte, error) {
	var body []byte
	op := func() error {
		b, err := t.do(ctx, url, accept)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.initialInterval
	b.MaxInterval = t.opts.maxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.opts.maxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrTransient) {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrNotFound, t.opts.maxAttempts, err)
		}
		return nil, err
	}
	return body, nil
}

// do performs one rate-limited request.
func (t *transport) do(ctx context.Context, url, accept string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", t.name, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", t.name, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.opts.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %v", t.name, ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := t.checkHTTPErrors(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: reading body: %v", t.name, ErrTransient, err)
	}
	return body, nil
}

// checkHTTPErrors maps a response status onto the error taxonomy.
func (t *transport) checkHTTPErrors(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: t.name, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", t.name, ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: status %d", t.name, ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Provider: t.name, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Zero means the header gave no usable hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// escapeIDPath escapes an identifier for use in a URL path, keeping the
// slashes DOIs contain.
func escapeIDPath(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), "%2F", "/")
}
