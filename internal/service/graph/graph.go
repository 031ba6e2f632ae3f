// Package graph talks to the Facebook and Instagram Graph APIs: resolving the
// Instagram account linked to a Page and running the container publishing
// flow for reels and images.
//
// Publishing is a multi-step process:
//  1. Create a media container from a public URL
//  2. Poll the container status until processing finishes
//  3. Publish the container
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/lolify/pkg/util"
)

const defaultTimeout = 30 * time.Second

// Client is a thin session over one Graph API host. It signs every request
// with the access token and never retries.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	userAgent   string
	logger      *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL, accessToken string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases idle connections held by the session.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) BaseURL() string { return c.baseURL }

// Response is a raw Graph API reply. Non-2xx statuses are not an error at
// this layer; callers decide what a status means.
type Response struct {
	StatusCode int
	Body       []byte
}

// APIError is the error object the Graph API returns on failure.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	SubCode   int    `json:"error_subcode,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error: %s (type: %s, code: %d)", e.Message, e.Type, e.Code)
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, util.Truncate(string(r.Body), 200))
	}
	return nil
}

// Err returns the embedded Graph error object, if any.
func (r *Response) Err() *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(r.Body, &envelope) != nil {
		return nil
	}
	return envelope.Error
}

func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, params)
}

func (c *Client) Post(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, params)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) (*Response, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("access_token", c.accessToken)

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("Graph API response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
