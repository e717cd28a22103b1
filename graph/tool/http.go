package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dshills/coursegraph/graph/model"
)

// DefaultMaxBytes caps how much of a page FetchTool returns.
const DefaultMaxBytes = 64 << 10

// FetchTool retrieves a web page over HTTP GET so a researcher can read
// sources. Bodies longer than the byte cap are truncated.
type FetchTool struct {
	client   *http.Client
	maxBytes int64
}

// FetchOption configures a FetchTool.
type FetchOption func(*FetchTool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *FetchTool) { f.client = c }
}

// WithMaxBytes sets the body cap.
func WithMaxBytes(n int64) FetchOption {
	return func(f *FetchTool) { f.maxBytes = n }
}

// NewFetchTool creates a page fetcher with a 30s client timeout.
func NewFetchTool(opts ...FetchOption) *FetchTool {
	f := &FetchTool{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FetchTool) Name() string { return "fetch_page" }

func (f *FetchTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        f.Name(),
		Description: "Fetch a web page and return its status, content type and body text.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Absolute http or https URL",
				},
			},
			"required": []string{"url"},
		},
	}
}

func (f *FetchTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := input["url"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: must be absolute http or https", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "coursegraph-researcher/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = body[:f.maxBytes]
	}

	return map[string]interface{}{
		"url":          u.String(),
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    truncated,
	}, nil
}
