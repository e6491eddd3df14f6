// Package client provides a Go client for a remote toolqueue HTTP API.
//
// Usage:
//
//	c := client.New("https://api.example.com",
//	    client.WithOwner("", sessionID),
//	)
//
//	// Submit a job.
//	j, err := c.SubmitJob(ctx, "transcribe", input, client.WithPriority(5))
//
//	// Follow it until it reaches a terminal state.
//	final, err := c.Watch(ctx, j.ID.String(), func(j *job.Job) {
//	    fmt.Printf("%s: %s\n", j.ID, j.Status)
//	})
//
// Watch streams over Server-Sent Events (or a websocket) and applies the
// reconnect Policy: exponential backoff on errors, an immediate reconnect on
// a server timeout event and a polling fallback after repeated failures.
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

	"github.com/aagnone3/toolqueue"
)

// Owner headers understood by the API.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// Client talks to a toolqueue API server. It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	userID    string
	sessionID string
	token     string
	policy    Policy
	transport Transport
	logger    *slog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      http.DefaultClient,
		policy:    DefaultPolicy(),
		transport: TransportSSE,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("toolqueue/client: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses to sentinel errors.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return toolqueue.ErrJobNotFound
	}
	return nil
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("toolqueue/client: marshal request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), r)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	return req, nil
}

func (c *Client) authorize(h http.Header) {
	if c.userID != "" {
		h.Set(HeaderUserID, c.userID)
	}
	if c.sessionID != "" {
		h.Set(HeaderSessionID, c.sessionID)
	}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// do sends the request and decodes a JSON answer into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("toolqueue/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("toolqueue/client: decode response: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}
