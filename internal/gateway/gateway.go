// Package gateway accepts and holds long-lived streaming connections and
// forwards bus traffic to them. Two transports share the connection core:
// server-sent events and WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-proofcast/internal/registry"
	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

const (
	defaultSendBuffer        = 64
	defaultHeartbeatInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultShutdownGrace     = 5 * time.Second
)

// Config tunes the gateway's connection handling.
type Config struct {
	// HeartbeatInterval is how often a ping frame goes out per connection.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	// SendBuffer bounds each connection's outbound queue; overflow closes
	// the connection.
	SendBuffer int `mapstructure:"send_buffer" json:"send_buffer"`
	// WriteTimeout bounds a single transport write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	// ShutdownGrace is how long Shutdown waits for in-flight writes before
	// force-closing connections.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace"`
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	return c
}

// Dependencies groups the collaborators the gateway needs.
type Dependencies struct {
	Registry  *registry.Registry
	Directory directory.Directory
	Logger    logger.Logger
	Config    Config
}

var (
	ErrMissingRegistry  = errors.New("gateway: registry is required")
	ErrMissingDirectory = errors.New("gateway: directory is required")
	ErrShuttingDown     = errors.New("gateway: shutting down")
)

// Gateway owns every live connection: handshake, registration, heartbeats,
// and teardown.
type Gateway struct {
	registry  *registry.Registry
	directory directory.Directory
	logger    logger.Logger
	cfg       Config

	mu       sync.Mutex
	conns    map[string]*Connection
	draining bool
}

// New builds the gateway.
func New(deps Dependencies) (*Gateway, error) {
	if deps.Registry == nil {
		return nil, ErrMissingRegistry
	}
	if deps.Directory == nil {
		return nil, ErrMissingDirectory
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	return &Gateway{
		registry:  deps.Registry,
		directory: deps.Directory,
		logger:    deps.Logger,
		cfg:       deps.Config.withDefaults(),
		conns:     make(map[string]*Connection),
	}, nil
}

// Connect performs the handshake for a streaming client: resolve the tenant,
// authorize it, register the connection for fan-out, and queue the
// `connected` control frame. Authorization failures close the attempt before
// any bus subscription happens.
func (g *Gateway) Connect(ctx context.Context, siteIdentifier string) (*Connection, error) {
	if siteIdentifier == "" {
		return nil, fmt.Errorf("%w: site identifier is required", domain.ErrBadRequest)
	}

	site, err := g.directory.Lookup(ctx, siteIdentifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("gateway: directory lookup: %w", err)
	}
	// The sandbox flag comes from the directory record; there is no
	// identifier-based special casing here.
	if !site.CanStream() {
		return nil, fmt.Errorf("%w: site %s is not verified", domain.ErrForbidden, site.ID)
	}

	conn := newConnection(site.ID, site.Sandbox, g.cfg.SendBuffer)

	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return nil, ErrShuttingDown
	}
	g.conns[conn.id] = conn
	g.mu.Unlock()

	if err := g.registry.Add(ctx, conn); err != nil {
		g.forget(conn)
		conn.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrBusUnavailable, err)
	}

	conn.setOpen()
	conn.enqueue(connectedFrame(conn.id, conn.siteID))

	g.logger.Info("gateway: connection open",
		logger.F("conn_id", conn.id),
		logger.F("site_id", conn.siteID),
		logger.F("sandbox", conn.sandbox))
	return conn, nil
}

// Release tears a connection down: terminal state, registry removal, and the
// channel's bus subscription when it was the last one.
func (g *Gateway) Release(conn *Connection) {
	if conn == nil {
		return
	}
	conn.Close()
	g.registry.Remove(conn)
	g.forget(conn)
	g.logger.Info("gateway: connection closed",
		logger.F("conn_id", conn.id),
		logger.F("site_id", conn.siteID))
}

func (g *Gateway) forget(conn *Connection) {
	g.mu.Lock()
	delete(g.conns, conn.id)
	g.mu.Unlock()
}

// ConnectionCount reports how many connections are live.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown stops accepting new connections, gives in-flight writes the
// configured grace period to drain, then force-closes whatever remains.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	remaining := make([]*Connection, 0, len(g.conns))
	for _, conn := range g.conns {
		remaining = append(remaining, conn)
	}
	g.mu.Unlock()

	grace := time.NewTimer(g.cfg.ShutdownGrace)
	defer grace.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

drain:
	for {
		if g.ConnectionCount() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break drain
		case <-grace.C:
			break drain
		case <-poll.C:
		}
	}

	for _, conn := range remaining {
		g.Release(conn)
	}
	return nil
}

// runPump drives the per-connection write loop shared by both transports.
// write performs one transport write; a failed write means a dead socket and
// ends the connection.
func (g *Gateway) runPump(conn *Connection, write func(frame []byte) error) {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case frame := <-conn.send:
			if err := write(frame); err != nil {
				g.logger.Warn("gateway: write failed",
					logger.F("conn_id", conn.id), logger.F("error", err))
				conn.Close()
				return
			}
			conn.touch()
		case <-ticker.C:
			if err := write(pingFrame()); err != nil {
				g.logger.Warn("gateway: heartbeat failed",
					logger.F("conn_id", conn.id), logger.F("error", err))
				conn.Close()
				return
			}
			conn.touch()
		}
	}
}
