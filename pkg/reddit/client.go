// Package reddit provides the HTTP client for the public Reddit JSON
// endpoints: paginated listing fetch, post detail fetch, error
// classification, and the shared retry/backoff primitive.
package reddit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for request operations.
var (
	redditRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reddit_requests_total",
		Help: "Total Reddit requests by endpoint and status",
	}, []string{"endpoint", "status"})

	redditRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reddit_request_duration_seconds",
		Help:    "Reddit request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	redditErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reddit_errors_total",
		Help: "Total Reddit errors by class",
	}, []string{"class"})
)

// Endpoint labels for request metrics; bounded cardinality.
const (
	endpointListing = "listing"
	endpointDetail  = "detail"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the Reddit host (default https://www.reddit.com).
	BaseURL string

	// UserAgent identifies the scraper; required, Reddit throttles the
	// default Go user agent aggressively.
	UserAgent string

	// PageLimit is the listing page size (max 100).
	PageLimit int

	// DetailLimit and DetailDepth bound the comment tree per detail fetch.
	DetailLimit int
	DetailDepth int

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Retry configures the shared backoff primitive.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:     "https://www.reddit.com",
		UserAgent:   userAgent,
		PageLimit:   100,
		DetailLimit: 500,
		DetailDepth: 10,
		Timeout:     30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Client fetches subreddit listings and post details.
type Client struct {
	httpClient *http.Client
	config     Config
	limits     *LimitTracker
	logger     zerolog.Logger
}

// New creates a new Reddit client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > 100 {
		cfg.PageLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		limits:     NewLimitTracker(),
		logger:     log.With().Str("component", "reddit").Logger(),
	}, nil
}

// FetchPage fetches one page of a subreddit's /new feed. The after cursor is
// opaque; pass the cursor from the previous Listing, or "" for the first page.
func (c *Client) FetchPage(ctx context.Context, subreddit, after string) (*Listing, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.config.PageLimit))
	if after != "" {
		query.Set("after", after)
	}

	payload, err := c.getJSON(ctx, endpointListing, "/r/"+subreddit+"/new.json", query)
	if err != nil {
		return nil, err
	}

	return parseListing(payload)
}

// FetchDetail fetches the full post document behind a permalink, including
// the flattened comment tree.
func (c *Client) FetchDetail(ctx context.Context, permalink string) (*Post, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.config.DetailLimit))
	query.Set("depth", strconv.Itoa(c.config.DetailDepth))

	payload, err := c.getJSON(ctx, endpointDetail, permalink+".json", query)
	if err != nil {
		return nil, err
	}

	return parseDetail(payload)
}

// Limits returns the rate limit tracker fed by response headers.
func (c *Client) Limits() *LimitTracker {
	return c.limits
}

// getJSON performs one GET wrapped in the retry primitive and returns the
// response body.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	fullURL := c.config.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body []byte
	err := Retry(ctx, c.config.Retry, func(ctx context.Context) error {
		start := time.Now()
		defer func() {
			redditRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			redditErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			redditRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		c.limits.UpdateFromHeaders(resp.Header)

		if resp.StatusCode != http.StatusOK {
			class := classifyStatus(resp.StatusCode)
			redditErrorsTotal.WithLabelValues(string(class)).Inc()
			redditRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("Reddit request error")

			return &APIError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			redditErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return fmt.Errorf("read response: %w", err)
		}

		redditRequestsTotal.WithLabelValues(endpoint, "200").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
