// Package di wires configuration into concrete backends and services.
package di

import (
	"context"
	"fmt"
	"reflect"

	membus "github.com/goliatone/go-proofcast/internal/bus/memory"
	redisbus "github.com/goliatone/go-proofcast/internal/bus/redis"
	bundir "github.com/goliatone/go-proofcast/internal/directory/bun"
	memorydir "github.com/goliatone/go-proofcast/internal/directory/memory"
	"github.com/goliatone/go-proofcast/internal/gateway"
	"github.com/goliatone/go-proofcast/internal/health"
	"github.com/goliatone/go-proofcast/internal/ingest"
	"github.com/goliatone/go-proofcast/internal/registry"
	"github.com/goliatone/go-proofcast/pkg/commands"
	"github.com/goliatone/go-proofcast/pkg/config"
	pubsub "github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

// Options configure the container. Bus and Directory override the backends
// the config would otherwise select; tests and embedders use them to inject
// in-process fakes.
type Options struct {
	Config    config.Config
	Logger    logger.Logger
	Bus       pubsub.Bus
	Directory directory.Directory
}

// Container wires backends, registry, gateway, ingest, health, and commands.
type Container struct {
	Config    config.Config
	Logger    logger.Logger
	Bus       pubsub.Bus
	Directory directory.Directory
	Registry  *registry.Registry
	Gateway   *gateway.Gateway
	Ingest    *ingest.Service
	Health    *health.Tracker
	Commands  *commands.Registry

	closers []func() error
}

func isZeroConfig(cfg config.Config) bool {
	return reflect.ValueOf(cfg).IsZero()
}

// New constructs the container using the supplied options.
func New(opts Options) (*Container, error) {
	cfg := opts.Config
	if isZeroConfig(cfg) {
		cfg = config.Defaults()
	} else {
		loaded, err := config.Load(cfg)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	lgr := opts.Logger
	if lgr == nil {
		lgr = &logger.Nop{}
	}

	c := &Container{Config: cfg, Logger: lgr}

	bus, err := c.buildBus(opts)
	if err != nil {
		return nil, err
	}
	c.Bus = bus

	dir, sites, err := c.buildDirectory(opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Directory = dir

	c.Health = health.New(cfg.Health.FailureThreshold)

	reg, err := registry.New(bus, registry.WithLogger(lgr.With(logger.F("component", "registry"))))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Registry = reg

	gw, err := gateway.New(gateway.Dependencies{
		Registry:  reg,
		Directory: dir,
		Logger:    lgr.With(logger.F("component", "gateway")),
		Config: gateway.Config{
			HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
			SendBuffer:        cfg.Gateway.SendBuffer,
			WriteTimeout:      cfg.Gateway.WriteTimeout,
			ShutdownGrace:     cfg.Gateway.ShutdownGrace,
		},
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Gateway = gw

	ing, err := ingest.New(ingest.Dependencies{
		Bus:          bus,
		Directory:    dir,
		Logger:       lgr.With(logger.F("component", "ingest")),
		Health:       c.Health,
		MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Ingest = ing

	cmds, err := commands.New(commands.Dependencies{
		Ingest: ing,
		Bus:    bus,
		Sites:  sites,
		Logger: lgr.With(logger.F("component", "commands")),
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Commands = cmds

	return c, nil
}

// Close releases backend resources in reverse construction order.
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func (c *Container) buildBus(opts Options) (pubsub.Bus, error) {
	if opts.Bus != nil {
		return opts.Bus, nil
	}
	switch c.Config.Bus.Driver {
	case config.BusMemory:
		bus := membus.New(
			membus.WithQueueSize(c.Config.Bus.QueueSize),
			membus.WithLogger(c.Logger.With(logger.F("component", "bus"))),
		)
		c.closers = append(c.closers, bus.Close)
		return bus, nil
	case config.BusRedis:
		bus, err := redisbus.New(redisbus.Config{
			Addr:     c.Config.Bus.Redis.Addr,
			Password: c.Config.Bus.Redis.Password,
			DB:       c.Config.Bus.Redis.DB,
		},
			redisbus.WithQueueSize(c.Config.Bus.QueueSize),
			redisbus.WithLogger(c.Logger.With(logger.F("component", "bus"))),
		)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, bus.Close)
		return bus, nil
	default:
		return nil, fmt.Errorf("di: unknown bus driver %q", c.Config.Bus.Driver)
	}
}

// siteUpserter is the provisioning surface the command catalog needs.
type siteUpserter interface {
	Upsert(ctx context.Context, site directory.Site) error
}

// readOnlyUpserter rejects provisioning for injected directories that only
// expose lookups.
type readOnlyUpserter struct{}

func (readOnlyUpserter) Upsert(ctx context.Context, site directory.Site) error {
	return fmt.Errorf("di: directory is read-only, cannot provision %q", site.ID)
}

// memUpserter adapts the in-memory directory's synchronous Upsert.
type memUpserter struct {
	dir *memorydir.Directory
}

func (u memUpserter) Upsert(ctx context.Context, site directory.Site) error {
	u.dir.Upsert(site)
	return nil
}

func (c *Container) buildDirectory(opts Options) (directory.Directory, siteUpserter, error) {
	if opts.Directory != nil {
		upserter, _ := opts.Directory.(siteUpserter)
		if upserter == nil {
			if mem, ok := opts.Directory.(*memorydir.Directory); ok {
				upserter = memUpserter{dir: mem}
			}
		}
		if upserter == nil {
			upserter = readOnlyUpserter{}
		}
		return opts.Directory, upserter, nil
	}
	switch c.Config.Directory.Driver {
	case config.DirectoryMemory:
		dir := memorydir.New()
		return dir, memUpserter{dir: dir}, nil
	case config.DirectorySQLite:
		store, err := bundir.Open(context.Background(), c.Config.Directory.DSN)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, store.Close)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("di: unknown directory driver %q", c.Config.Directory.Driver)
	}
}
