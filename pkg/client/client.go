// File: pkg/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is where a locally started service listens.
const DefaultBaseURL = "http://localhost:3001"

// ErrServiceUnavailable is returned by WaitForService when the service never became healthy.
var ErrServiceUnavailable = errors.New("service not available")

// APIError is a non-successful response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cfgate: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running cfgate service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the overall timeout of each request. Bypass runs can take a while; the
// default is two minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Add(key, value) }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success bool                `json:"success"`
	Data    jsoniter.RawMessage `json:"data"`
	Error   string              `json:"error"`
}

// send issues one request and returns the raw response.
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decoding response of %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding payload of %s: %w", path, err)
		}
	}
	return nil
}

type targetRequest struct {
	URL     string         `json:"url"`
	Options *BypassOptions `json:"options,omitempty"`
}

// Health fetches the service status.
// The body is not wrapped in the response envelope.
func (c *Client) Health(ctx context.Context) (Health, error) {
	resp, err := c.send(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}
	defer resp.Body.Close()

	var body struct {
		Health
		Error string `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := body.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Health{}, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Health{}, fmt.Errorf("decoding response of /health: %w", decodeErr)
	}
	return body.Health, nil
}

// IsHealthy reports whether the service answers and calls itself healthy.
func (c *Client) IsHealthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == "healthy"
}

// WaitForService polls /health up to maxAttempts times, interval apart.
func (c *Client) WaitForService(ctx context.Context, maxAttempts int, interval time.Duration) error {
	for i := 0; i < maxAttempts; i++ {
		if c.IsHealthy(ctx) {
			return nil
		}
		if i == maxAttempts-1 {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrServiceUnavailable, maxAttempts)
}

// Detect checks url for a challenge without interacting with it.
func (c *Client) Detect(ctx context.Context, url string) (DetectResult, error) {
	var res DetectResult
	err := c.do(ctx, http.MethodPost, "/detect", targetRequest{URL: url}, &res)
	return res, err
}

// Bypass loads url, tries to clear a challenge and returns the captured page.
func (c *Client) Bypass(ctx context.Context, url string, opts BypassOptions) (BypassResult, error) {
	var res BypassResult
	err := c.do(ctx, http.MethodPost, "/bypass", targetRequest{URL: url, Options: &opts}, &res)
	return res, err
}

// Screenshot is Bypass with the screenshot always taken.
func (c *Client) Screenshot(ctx context.Context, url string, opts BypassOptions) (BypassResult, error) {
	var res BypassResult
	err := c.do(ctx, http.MethodPost, "/screenshot", targetRequest{URL: url, Options: &opts}, &res)
	return res, err
}

// Stats fetches the service counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &s)
	return s, err
}

// DecodeScreenshot turns the base64 screenshot of a BypassResult into PNG bytes.
func DecodeScreenshot(data string) ([]byte, error) {
	png, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return png, nil
}

// SaveScreenshot decodes data and writes it to path. A leading ~ is expanded.
func SaveScreenshot(data, path string) error {
	png, err := DecodeScreenshot(data)
	if err != nil {
		return err
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expanding %s: %w", path, err)
	}
	if err := os.WriteFile(expanded, png, 0o644); err != nil {
		return fmt.Errorf("writing screenshot: %w", err)
	}
	return nil
}
