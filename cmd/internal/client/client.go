// Package client talks to an arc room server on behalf of the streaming
// engine: it resolves room references, fetches history, opens live feeds and
// submits messages.
//
// Every method takes the credential explicitly so one Client can serve
// sessions for different users.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 4 << 20
)

// Client is a thin HTTP and websocket client for one server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	origin     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOrigin sets the Origin header sent on websocket handshakes. By default
// the origin is derived from the base URL.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = strings.TrimSpace(origin)
	}
}

// New returns a Client for the server at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("client: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("client: base url missing host")
	}

	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.origin == "" {
		c.origin = u.Scheme + "://" + u.Host
	}
	return c, nil
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// doRequest performs a JSON request and returns the response body. Non-2xx
// responses are returned as *APIError.
func (c *Client) doRequest(ctx context.Context, method, path, credential string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("client: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	body, _, err := c.do(request, credential)
	return body, err
}

// doRequestRaw sends a raw body. The status code is returned even when the
// request failed with an *APIError.
func (c *Client) doRequestRaw(ctx context.Context, method, path, credential, contentType string, body io.Reader) ([]byte, int, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("client: create request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	return c.do(request, credential)
}

func (c *Client) do(request *http.Request, credential string) ([]byte, int, error) {
	if credential != "" {
		request.Header.Set("Authorization", "Bearer "+credential)
	}
	request.Header.Set("Accept", "application/json")

	started := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("client: request to %s %s failed: %w", request.Method, request.URL.Path, err)
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, response.StatusCode, fmt.Errorf("client: read response body: %w", err)
	}

	c.log.Debug("client.http",
		"method", request.Method,
		"path", request.URL.Path,
		"status", response.StatusCode,
		"dur_ms", time.Since(started).Milliseconds(),
	)

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, response.StatusCode, nil
	}
	return responseBody, response.StatusCode, newAPIError(response.StatusCode, responseBody)
}
