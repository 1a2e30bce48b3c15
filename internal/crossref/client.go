// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package crossref queries the CrossRef REST API /works endpoint under the
// shared rate-limit gate, retrying transient failures and caching results.
package crossref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pdiddy/doi-recovery/internal/httputil"
	"github.com/pdiddy/doi-recovery/internal/ratelimit"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// DefaultBaseURL is the public CrossRef API root.
const DefaultBaseURL = "https://api.crossref.org"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 8 << 20

// Client performs rate-limited lookups. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	baseURL   string
	contact   string
	userAgent string
	timeout   time.Duration
	policy    httputil.Policy
	gate      *ratelimit.Gate
	cache     *Cache
	logger    *slog.Logger

	total       atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64
	cacheHits   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBaseURL points the client at another API root. Tests use this to
// substitute an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRetryPolicy overrides the retry policy derived from the configuration.
func WithRetryPolicy(p httputil.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithCache enables response caching. A nil cache disables it.
func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger used for retry and failure diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client. Every request passes through gate.
func New(cfg types.RecoveryConfig, gate *ratelimit.Gate, opts ...Option) (*Client, error) {
	if err := types.CheckContact(cfg.Contact); err != nil {
		return nil, err
	}
	if gate == nil {
		return nil, errors.New("crossref client requires a rate-limit gate")
	}
	c := &Client{
		http:      &http.Client{},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		contact:   strings.TrimSpace(cfg.Contact),
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		gate:      gate,
		logger:    slog.New(slog.DiscardHandler),
		policy:    httputil.DefaultPolicy(),
	}
	if cfg.MaxRetries > 0 {
		c.policy.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryBaseDelay > 0 {
		c.policy.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		c.policy.MaxDelay = cfg.RetryMaxDelay
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = "doi-recovery/0.1"
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if cfg.CacheTTL > 0 {
		c.cache = NewCache(cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup runs one query. Cached results are returned without touching the
// gate. Errors wrap ErrTimeout, ErrRateLimited, ErrServiceError or
// ErrMalformedResponse; transient failures that outlast the retry policy
// are additionally wrapped in *httputil.ExhaustedError.
func (c *Client) Lookup(ctx context.Context, q types.LookupQuery) (types.LookupResult, error) {
	if c.cache != nil {
		if res, ok := c.cache.Get(q); ok {
			c.cacheHits.Add(1)
			return res, nil
		}
	}

	reqURL := c.baseURL + "/works?" + c.params(q).Encode()

	var res types.LookupResult
	err := httputil.Retry(ctx, c.policy, func(ctx context.Context, attempt int) error {
		if err := c.gate.Acquire(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrDailyLimit) {
				c.rateLimited.Add(1)
				return fmt.Errorf("%w: %w", ErrRateLimited, err)
			}
			return err
		}
		var err error
		res, err = c.do(ctx, reqURL)
		if err != nil && httputil.IsRetryable(err) {
			c.logger.Debug("lookup attempt failed",
				"kind", q.Kind, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		c.logger.Warn("lookup failed", "kind", q.Kind, "error", err)
		return types.LookupResult{}, err
	}

	if c.cache != nil {
		c.cache.Set(q, res)
	}
	return res, nil
}

// do sends one request. The caller has already been admitted by the gate.
func (c *Client) do(ctx context.Context, reqURL string) (types.LookupResult, error) {
	c.total.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.failed.Add(1)
		return types.LookupResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s (mailto:%s)", c.userAgent, c.contact))
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.failed.Add(1)
		return types.LookupResult{}, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.failed.Add(1)
		return types.LookupResult{}, c.transportError(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		res, err := decodeWorks(body)
		if err != nil {
			c.failed.Add(1)
			return types.LookupResult{}, err
		}
		c.successful.Add(1)
		return res, nil

	case resp.StatusCode == http.StatusNotFound:
		c.successful.Add(1)
		return types.LookupResult{}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		c.rateLimited.Add(1)
		after := httputil.RetryAfter(resp.Header, time.Now())
		return types.LookupResult{}, httputil.Retryable(
			fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode), after)

	case resp.StatusCode >= 500:
		c.failed.Add(1)
		return types.LookupResult{}, httputil.Retryable(
			fmt.Errorf("%w: HTTP %d", ErrServiceError, resp.StatusCode), 0)

	default:
		c.failed.Add(1)
		return types.LookupResult{}, fmt.Errorf("%w: HTTP %d", ErrServiceError, resp.StatusCode)
	}
}

// transportError classifies a failed round trip. Batch cancellation is
// returned as is; timeouts and network faults are retryable.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return httputil.Retryable(fmt.Errorf("%w: %v", ErrTimeout, err), 0)
	}
	return httputil.Retryable(fmt.Errorf("request failed: %w", err), 0)
}

// params builds the /works query string for q.
func (c *Client) params(q types.LookupQuery) url.Values {
	v := url.Values{"mailto": {c.contact}}
	if q.Rows > 0 {
		v.Set("rows", strconv.Itoa(q.Rows))
	}

	var filters []string
	switch q.Kind {
	case types.QueryIdentifier:
		filters = append(filters, "pmid:"+q.ExternalID)
	case types.QueryVenue:
		v.Set("query.container-title", q.Venue)
		var bib []string
		for _, s := range []string{q.Volume, q.Issue, q.Page} {
			if s != "" {
				bib = append(bib, s)
			}
		}
		if len(bib) > 0 {
			v.Set("query.bibliographic", strings.Join(bib, " "))
		}
	case types.QueryTitle:
		v.Set("query.title", q.Title)
		if q.Author != "" {
			v.Set("query.author", q.Author)
		}
	}
	if q.Year > 0 && q.Kind != types.QueryIdentifier {
		y := strconv.Itoa(q.Year)
		filters = append(filters, "from-pub-date:"+y, "until-pub-date:"+y)
	}
	if len(filters) > 0 {
		v.Set("filter", strings.Join(filters, ","))
	}
	return v
}

// Stats returns the traffic counters.
func (c *Client) Stats() types.ClientStats {
	return types.ClientStats{
		TotalRequests:       c.total.Load(),
		SuccessfulRequests:  c.successful.Load(),
		FailedRequests:      c.failed.Load(),
		RateLimitedRequests: c.rateLimited.Load(),
		CacheHits:           c.cacheHits.Load(),
	}
}
