// Package fetchkit is the shared HTTP plumbing for the source adapters:
// one client with a fixed timeout, response caching, and a typed error
// for non-success status codes.
package fetchkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vtgeo/econmap/internal/cache"
)

const defaultTimeout = 60 * time.Second

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Client fetches URLs with a fixed timeout and caches responses.
type Client struct {
	http  *http.Client
	cache *cache.Cache
}

// New creates a client. A zero timeout selects the 60 second default.
// The cache may be nil, in which case every call hits the network.
func New(c *cache.Cache, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		cache: c,
	}
}

// Get fetches endpoint with the given query parameters, consulting the
// cache first. Returns the response body.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	fullURL := endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	if c.cache == nil {
		return c.fetch(ctx, fullURL)
	}

	body, _, err := c.cache.GetOrFetch(cacheKey(endpoint, params), func() ([]byte, error) {
		return c.fetch(ctx, fullURL)
	})
	return body, err
}

// cacheKey canonicalizes a request for cache lookup. Encode sorts
// parameter names, so the key is stable. The key parameter is an API
// credential: it does not change the response body for a given query and
// must not end up in the persistent store, so it is excluded.
func cacheKey(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	if params.Has("key") {
		clean := url.Values{}
		for name, vals := range params {
			if name != "key" {
				clean[name] = vals
			}
		}
		params = clean
	}
	return endpoint + "?" + params.Encode()
}

func (c *Client) fetch(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "econmap/1.0 (economic indicators dashboard)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: fullURL, Code: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}
