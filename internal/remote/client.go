// Package remote provides HTTP clients for the verification, geocoding and
// issue backend services used while syncing queued reports.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var errNoBackend = errors.New("backend URL not configured")

// Client performs authenticated requests against the issue backend.
// Credentials are read from the SessionStore on every call so a refreshed
// token takes effect immediately.
type Client struct {
	sessions   *SessionStore
	httpClient *http.Client
}

// New creates a backend client that reads credentials from sessions.
func New(sessions *SessionStore) *Client {
	return &Client{
		sessions:   sessions,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// NewWithHTTPClient creates a backend client with a custom HTTP client (for testing).
func NewWithHTTPClient(sessions *SessionStore, httpClient *http.Client) *Client {
	return &Client{
		sessions:   sessions,
		httpClient: httpClient,
	}
}

// Sessions returns the store the client reads credentials from.
func (c *Client) Sessions() *SessionStore {
	return c.sessions
}

// doRequest performs an HTTP request with the backend headers and returns the response.
func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.doRequestWithHeaders(ctx, method, path, contentType, body, nil)
}

func (c *Client) doRequestWithHeaders(ctx context.Context, method, path, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	session := c.sessions.Current()
	if session.URL == "" {
		return nil, errNoBackend
	}

	url := strings.TrimRight(session.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token := session.AuthToken
	if token == "" {
		token = session.APIKey
	}
	if session.APIKey != "" {
		req.Header.Set("apikey", session.APIKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// readErrorBody reads at most 4KiB of a failed response for diagnostics.
func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.TrimSpace(string(body))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
