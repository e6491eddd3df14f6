package client

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithOwner identifies the caller. A non-empty userID wins over sessionID.
func WithOwner(userID, sessionID string) Option {
	return func(c *Client) {
		c.userID = userID
		c.sessionID = ""
		if userID == "" {
			c.sessionID = sessionID
		}
	}
}

// WithToken sets the bearer token sent with every request. The sweep
// endpoint requires it.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithPolicy sets the Watch reconnect policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p.withDefaults() }
}

// WithTransport selects how Watch streams status events.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
