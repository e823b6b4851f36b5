// Package api is the HTTP client adapter for the external patient API.
// One Client is held per browser session; it carries the default headers,
// including the bearer token, sent with every request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Observer receives one call per completed request. status is the HTTP
// status code, or "error" when no response was received.
type Observer func(endpoint, status string, duration time.Duration)

// Client is a REST client for the patient API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	observer   Observer

	mu      sync.RWMutex
	headers http.Header
}

// Config holds client configuration.
type Config struct {
	// BaseURL is prepended to every path. Empty means relative paths,
	// which require an HTTPClient whose transport can route them.
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Observer   Observer
}

// New creates a new patient API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		observer:   cfg.Observer,
		headers:    headers,
	}
	c.SetToken(cfg.Token)
	return c, nil
}

// Clone returns an independent client sharing the transport but not the headers.
func (c *Client) Clone() *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		observer:   c.observer,
		headers:    c.headers.Clone(),
	}
}

// BaseURL returns the base URL, empty for relative mode.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken sets the default bearer token. An empty token removes the
// Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == "" {
		c.headers.Del("Authorization")
		return
	}
	c.headers.Set("Authorization", "Bearer "+token)
}

// Header returns the current default value of a header.
func (c *Client) Header(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers.Get(key)
}

// =============================================================================
// Response Types
// =============================================================================

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Error returns an *APIError if the response indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: r.StatusCode}
	var errResp struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &errResp); err == nil {
		var detail string
		switch {
		case json.Unmarshal(errResp.Detail, &detail) == nil && detail != "":
			apiErr.Detail = detail
		case len(errResp.Detail) > 0:
			apiErr.Detail = string(errResp.Detail)
		default:
			apiErr.Detail = errResp.Error
		}
	}
	return apiErr
}

// APIError is a non-2xx answer from the patient API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.mu.RLock()
	for key, values := range c.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	c.mu.RUnlock()

	if body == nil {
		req.Header.Del("Content-Type")
	}
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.newRequest(ctx, method, path, bytes.NewReader(data))
}

// do sends req once and returns the response, or an error for transport
// failures and statuses >= 400.
func (c *Client) do(endpoint string, req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	c.observe(endpoint, strconv.Itoa(resp.StatusCode), start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}
	if err := out.Error(); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.observer != nil {
		c.observer(endpoint, status, time.Since(start))
	}
}
