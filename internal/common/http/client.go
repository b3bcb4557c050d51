// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnexpectedStatus marks a response outside the 2xx range.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrBodyTooLarge marks a response body over the buffering limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// DefaultMaxBodyBytes bounds how much of a response is buffered.
const DefaultMaxBodyBytes = 64 << 20

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds every request on the default client. Zero leaves the
	// bound to the per-call timeout.
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Client issues requests against a single base URL and buffers responses.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxBodyBytes int64
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return &Client{
		httpClient:   client,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		maxBodyBytes: limit,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches path with query. A positive timeout bounds this call only.
func (c *Client) Get(ctx context.Context, path string, query url.Values, timeout time.Duration) (*Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, timeout)
}

// PostJSON encodes body as JSON and posts it to path.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, timeout time.Duration) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, payload, timeout)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%w: %s %s exceeded %d bytes", ErrBodyTooLarge, method, endpoint, c.maxBodyBytes)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, endpoint, resp.StatusCode)
	}
	return out, nil
}
