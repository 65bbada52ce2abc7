// Package proofcast is the public facade: one call wires webhook intake, the
// channel bus, and the streaming gateway into an http.Handler.
package proofcast

import (
	"context"
	"net/http"

	"github.com/goliatone/go-proofcast/internal/di"
	"github.com/goliatone/go-proofcast/internal/gateway"
	"github.com/goliatone/go-proofcast/internal/health"
	"github.com/goliatone/go-proofcast/internal/ingest"
	"github.com/goliatone/go-proofcast/pkg/commands"
	"github.com/goliatone/go-proofcast/pkg/config"
	pubsub "github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

// ModuleOptions configure the module facade. Bus and Directory override the
// config-selected backends.
type ModuleOptions struct {
	Config    config.Config
	Logger    logger.Logger
	Bus       pubsub.Bus
	Directory directory.Directory
}

// Module bundles the container and exposes the HTTP surface.
type Module struct {
	container *di.Container
	mux       *http.ServeMux
}

// NewModule assembles backends, registry, gateway, ingest, health, and
// commands.
func NewModule(opts ModuleOptions) (*Module, error) {
	container, err := di.New(di.Options{
		Config:    opts.Config,
		Logger:    opts.Logger,
		Bus:       opts.Bus,
		Directory: opts.Directory,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{source}", container.Ingest.Handler())
	mux.Handle("GET /stream", container.Gateway.SSEHandler())
	mux.Handle("GET /ws", container.Gateway.WSHandler())
	mux.Handle("GET /healthz", container.Health.Handler())

	return &Module{container: container, mux: mux}, nil
}

// Handler returns the full HTTP surface: webhook intake, SSE, WebSocket, and
// health.
func (m *Module) Handler() http.Handler {
	return m.mux
}

// Gateway returns the streaming gateway.
func (m *Module) Gateway() *gateway.Gateway {
	if m == nil || m.container == nil {
		return nil
	}
	return m.container.Gateway
}

// Ingest returns the webhook intake service.
func (m *Module) Ingest() *ingest.Service {
	if m == nil || m.container == nil {
		return nil
	}
	return m.container.Ingest
}

// Bus returns the pub/sub backend.
func (m *Module) Bus() pubsub.Bus {
	if m == nil || m.container == nil {
		return nil
	}
	return m.container.Bus
}

// Directory returns the tenant directory.
func (m *Module) Directory() directory.Directory {
	if m == nil || m.container == nil {
		return nil
	}
	return m.container.Directory
}

// Commands returns the go-command registry.
func (m *Module) Commands() *commands.Registry {
	if m == nil || m.container == nil {
		return nil
	}
	return m.container.Commands
}

// Health returns the readiness tracker.
func (m *Module) Health() *health.Tracker {
	if m == nil || m.container == nil {
		return nil
	}
	return m.container.Health
}

// Config returns the resolved configuration.
func (m *Module) Config() config.Config {
	if m == nil || m.container == nil {
		return config.Config{}
	}
	return m.container.Config
}

// Shutdown drains streaming connections, then releases backend resources.
// Safe to call once; the module is unusable afterwards.
func (m *Module) Shutdown(ctx context.Context) error {
	if m == nil || m.container == nil {
		return nil
	}
	err := m.container.Gateway.Shutdown(ctx)
	if closeErr := m.container.Close(); err == nil {
		err = closeErr
	}
	return err
}
