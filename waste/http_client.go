package waste

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for feature fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// FetchOption configures a Fetcher.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// Fetcher retrieves the container registry as a GeoJSON FeatureCollection.
// It never touches the local cache.
type Fetcher struct {
	url string
	cfg fetchConfig
}

// NewFetcher creates a fetcher for the given endpoint.
func NewFetcher(url string, opts ...FetchOption) *Fetcher {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}
	return &Fetcher{url: url, cfg: cfg}
}

// NewFetcherFromConfig builds a fetcher from the source section of the config.
func NewFetcherFromConfig(sc SourceConfig, opts ...FetchOption) *Fetcher {
	base := []FetchOption{WithMaxRetries(sc.MaxRetries)}
	if sc.Timeout > 0 {
		base = append(base, WithTimeout(sc.Timeout))
	}
	return NewFetcher(sc.URL, append(base, opts...)...)
}

// URL returns the endpoint this fetcher reads from.
func (f *Fetcher) URL() string {
	return f.url
}

// FetchRawFeatures downloads and parses the feature collection. Transport
// failures and non-2xx responses are retried with exponential backoff and
// reported as KindNetwork; an unparseable body is KindParse and is not retried.
func (f *Fetcher) FetchRawFeatures(ctx context.Context) (*geojson.FeatureCollection, error) {
	const op = "fetch features"
	if f.url == "" {
		return nil, newError(KindNetwork, op, "source URL is empty", nil)
	}

	client := f.cfg.client
	if client == nil {
		client = &http.Client{Timeout: f.cfg.timeout}
	}

	var lastErr error
	for attempt := range f.cfg.maxRetries {
		if attempt > 0 {
			backoff := f.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, newError(KindNetwork, op, "cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, f.url)
		if err != nil {
			lastErr = err
			continue
		}

		fc, err := ParseFeatureCollection(body)
		if err != nil {
			// Parse errors are not transient; do not retry.
			return nil, newError(KindParse, op, "", err)
		}
		return fc, nil
	}

	return nil, newError(KindNetwork, op, fmt.Sprintf("all %d attempts failed", f.cfg.maxRetries), lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
