// Package fetch retrieves pages from the source site with retry,
// backoff, and fixed pacing. The site throttles aggressively; a naive
// single-attempt fetch produces unacceptable false-failure rates.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// Defaults for retry and pacing.
const (
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMinInterval = 1500 * time.Millisecond
)

// NetworkError is returned once every retry attempt is exhausted. It
// is fatal for the single record, not for the run.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SourceDocument is one fetched page plus its transport-level cache
// headers.
type SourceDocument struct {
	URL          string
	Body         []byte
	FetchedAt    time.Time
	LastModified string
	ETag         string
}

// Options configures a Client.
type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration // backoff is BaseDelay × attempt
	MinInterval time.Duration // fixed minimum delay between calls
	Proxy       string
}

// Client fetches pages sequentially, pacing every call through a
// single limiter so overall request cadence stays predictable.
type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	retries int
}

// NewClient builds a paced, retrying HTTP client.
func NewClient(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxRetries
	rc.Logger = log.New(io.Discard, "", 0)
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return opts.BaseDelay * time.Duration(attemptNum+1)
	}
	// Any non-success response is retryable on this source; it serves
	// intermittent 5xx and 429 under load.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return true, nil
		}
		return false, nil
	}

	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			rc.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Client{
		http:    rc,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		retries: opts.MaxRetries,
	}
}

// Pace blocks until the inter-call interval has elapsed. The pipeline
// calls it even when a fetch is skipped by a cache hit, so cache state
// never changes the request cadence.
func (c *Client) Pace(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Fetch retrieves one page.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*SourceDocument, error) {
	if err := c.Pace(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("Cache-Control", "no-transform")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: pageURL, Attempts: c.retries + 1, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: pageURL, Attempts: c.retries + 1, Err: err}
	}

	return &SourceDocument{
		URL:          pageURL,
		Body:         body,
		FetchedAt:    time.Now().UTC(),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}, nil
}
