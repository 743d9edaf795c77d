package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	httpclient "github.com/appleboy/go-httpclient"
	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"

	"github.com/go-pulsedash/pulsedash/internal/metrics"
)

// TokenSource supplies the current bearer token. An empty string means the
// request is sent unauthenticated (auth endpoints).
type TokenSource interface {
	Token() string
}

// envelope is the backend's uniform JSON response shape.
type envelope struct {
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client wraps HTTP calls to the dashboard backend. It attaches the bearer
// token from its TokenSource, decodes the response envelope, and invokes
// the OnUnauthorized hook on any 401 so the session layer can force a
// logout without every call site checking.
type Client struct {
	baseURL        string
	retryClient    *retry.Client
	tokens         TokenSource
	onUnauthorized func()
	metrics        metrics.Recorder

	timeout            time.Duration
	maxRetries         int
	retryDelay         time.Duration
	maxRetryDelay      time.Duration
	insecureSkipVerify bool
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry configures transport-level retries. The default of zero keeps
// all retries user-initiated.
func WithRetry(maxRetries int, delay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if delay > 0 {
			c.retryDelay = delay
		}
		if maxDelay > 0 {
			c.maxRetryDelay = maxDelay
		}
	}
}

// WithInsecureSkipVerify disables TLS verification (dev/testing only).
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a backend API client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       15 * time.Second,
		maxRetries:    0,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 10 * time.Second,
		metrics:       metrics.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// #nosec G402 -- InsecureSkipVerify is user-configurable for development/testing
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.insecureSkipVerify,
		},
	}

	base, err := httpclient.NewAuthClient(httpclient.AuthModeNone, "",
		httpclient.WithTimeout(c.timeout),
		httpclient.WithTransport(transport),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create base HTTP client: %w", err)
	}

	retryClient, err := retry.NewRealtimeClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(c.maxRetries),
		retry.WithInitialRetryDelay(c.retryDelay),
		retry.WithMaxRetryDelay(c.maxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	c.retryClient = retryClient

	return c, nil
}

// SetTokenSource wires the session that supplies bearer tokens. Separate
// from New because the session store itself needs the client.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// SetOnUnauthorized registers the hook invoked whenever the backend
// answers 401. The hook runs before the error is returned to the caller.
func (c *Client) SetOnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// Get performs a GET request and decodes the envelope's data into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body, out any,
) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.retryClient.Do(ctx, req)
	if err != nil {
		c.metrics.RecordAPIRequest(method, metricEndpoint(path), 0, time.Since(start))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordAPIRequest(method, metricEndpoint(path), resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    messageFrom(respBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    messageFrom(respBody),
		}
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Data == nil {
		// Endpoints outside the envelope convention return the payload
		// directly.
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// messageFrom extracts the backend message field from an error body.
func messageFrom(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}

// metricEndpoint collapses per-resource path segments so metric label
// cardinality stays bounded.
func metricEndpoint(path string) string {
	const togglePrefix = "/api/widget/preferences/"
	if strings.HasPrefix(path, togglePrefix) && strings.HasSuffix(path, "/toggle") {
		return "/api/widget/preferences/:id/toggle"
	}
	const socialPrefix = "/api/social-media/"
	if strings.HasPrefix(path, socialPrefix) && strings.HasSuffix(path, "/data") {
		return "/api/social-media/:platform/data"
	}
	return path
}
