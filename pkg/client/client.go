// Package client consumes a proofcast notification stream over WebSocket,
// redialing with backoff when the connection drops.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
	"github.com/goliatone/go-proofcast/pkg/retry"
	"github.com/gorilla/websocket"
)

// ErrMaxAttempts is returned when consecutive reconnection attempts exhaust
// the configured budget without a successful handshake.
var ErrMaxAttempts = errors.New("client: reconnection attempts exhausted")

// Handler receives each notification event delivered on the stream.
type Handler func(ctx context.Context, event domain.NotificationEvent)

// frame mirrors the wire envelope the gateway writes. Only the fields the
// client reads are declared.
type frame struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id"`
	Message      string          `json:"message"`
	Event        json.RawMessage `json:"event"`
}

const (
	frameConnected    = "connected"
	frameNotification = "notification"
)

const (
	defaultMaxAttempts      = 10
	defaultHeartbeatTimeout = 90 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithBackoff sets the reconnection delay policy.
func WithBackoff(b retry.Backoff) Option {
	return func(c *Client) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithMaxAttempts bounds consecutive failed reconnection attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithHeartbeatTimeout sets how long the stream may stay silent before the
// connection is considered dead. Must exceed the server's heartbeat interval.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeatTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Client maintains a WebSocket subscription to a single site's stream.
type Client struct {
	endpoint         string
	handler          Handler
	backoff          retry.Backoff
	maxAttempts      int
	heartbeatTimeout time.Duration
	log              logger.Logger
	dialer           *websocket.Dialer

	dials atomic.Int64
}

// New builds a Client for the given WebSocket endpoint and site. The endpoint
// is the gateway's /ws URL; the site identifier is appended as a query
// parameter.
func New(endpoint, siteID string, handler Handler, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("client: endpoint is required")
	}
	if siteID == "" {
		return nil, errors.New("client: site id is required")
	}
	if handler == nil {
		return nil, errors.New("client: handler is required")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("site_id", siteID)
	u.RawQuery = q.Encode()

	c := &Client{
		endpoint:         u.String(),
		handler:          handler,
		backoff:          retry.DefaultReconnectBackoff(),
		maxAttempts:      defaultMaxAttempts,
		heartbeatTimeout: defaultHeartbeatTimeout,
		log:              &logger.Nop{},
		dialer:           websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dials reports how many WebSocket handshakes the client has attempted.
func (c *Client) Dials() int64 {
	return c.dials.Load()
}

// Run connects and consumes the stream until the context is canceled, the
// server closes the stream cleanly, or reconnection attempts run out. A
// session that reached the connected handshake resets the attempt counter,
// so a long-lived stream gets the full budget back after every outage.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := c.session(ctx)
		if err == nil {
			// Clean shutdown requested by the server.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		attempt++
		if attempt >= c.maxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, c.maxAttempts, err)
		}
		delay := c.backoff.Next(attempt)
		c.log.Warn("stream dropped, reconnecting",
			logger.F("attempt", attempt),
			logger.F("delay", delay.String()),
			logger.F("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one dial-and-read cycle. The bool reports whether the
// connected handshake completed before the session ended.
func (c *Client) session(ctx context.Context) (bool, error) {
	c.dials.Add(1)
	socket, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return false, fmt.Errorf("client: dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("client: dial: %w", err)
	}
	defer socket.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			socket.Close()
		case <-stop:
		}
	}()

	connected := false
	for {
		socket.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return connected, nil
			}
			return connected, fmt.Errorf("client: read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("discarding malformed frame", logger.F("error", err.Error()))
			continue
		}
		switch f.Type {
		case frameConnected:
			connected = true
			c.log.Debug("stream connected", logger.F("connection_id", f.ConnectionID))
		case frameNotification:
			event, err := domain.DecodeEvent(f.Event)
			if err != nil {
				c.log.Warn("discarding malformed event", logger.F("error", err.Error()))
				continue
			}
			c.handler(ctx, event)
		}
	}
}
