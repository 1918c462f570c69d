// Package remote is the typed client for the automation backend's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is where the desktop backend listens out of the box.
const DefaultBaseURL = "http://127.0.0.1:5000/api"

// Client talks to the backend. It holds no post state of its own.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for the API rooted at baseURL.
// No request timeout is set: a call ends when the transport fails or ctx is done.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// errorBody is the shape the backend uses for refusals.
type errorBody struct {
	Error string `json:"error"`
}

// send performs one request and returns the status code and body.
// Only failures to complete the exchange are reported as errors here.
func (c *Client) send(ctx context.Context, op, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, data, nil
}

// call is the request path for CRUD endpoints. A 2xx body is decoded into out
// (when out is non-nil). A non-2xx answer carrying {"error": ...} becomes a
// *BusinessError; any other failure is a *TransportError.
func (c *Client) call(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	status, data, err := c.send(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return &BusinessError{Op: op, StatusCode: status, Message: eb.Error}
		}
		return &TransportError{Op: op, StatusCode: status, Body: snippet(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) callJSON(ctx context.Context, op, method, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	return c.call(ctx, op, method, path, bytes.NewReader(buf), "application/json", out)
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
