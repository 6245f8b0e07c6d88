// Package httpfetchers is the one concrete, real upstream fetcher
// implementation: a generic JSON-over-HTTP source reused for every cache
// source, parameterized by URL template and decode function. Production
// deployments substitute any provider that returns the shapes documented
// in the cache source table.
package httpfetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JSONFetcher fetches a JSON document from baseURL+path (with "{key}"
// substituted for the requested cache key) and decodes it with decode.
type JSONFetcher struct {
	client     *http.Client
	baseURL    string
	pathTmpl   string
	decode     func([]byte) (any, error)
}

// NewJSONFetcher builds a fetcher sharing the given HTTP client — callers
// construct one shared *http.Client (tuned MaxIdleConnsPerHost) and pass it
// to every fetcher, per the engine's single-shared-connection-pool design.
func NewJSONFetcher(client *http.Client, baseURL, pathTmpl string, decode func([]byte) (any, error)) *JSONFetcher {
	return &JSONFetcher{client: client, baseURL: baseURL, pathTmpl: pathTmpl, decode: decode}
}

// Fetch implements cache.Fetcher.
func (f *JSONFetcher) Fetch(ctx context.Context, key string) (any, error) {
	path := strings.ReplaceAll(f.pathTmpl, "{key}", url.PathEscape(key))
	u := strings.TrimRight(f.baseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return f.decode(body)
}

// SharedClient builds the single HTTP client every fetcher should reuse.
func SharedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// DecodeJSON is a convenience decode func for JSONFetcher that unmarshals
// into a freshly allocated T and returns it boxed as any.
func DecodeJSON[T any](body []byte) (any, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}
