package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Bus and directory driver names accepted in configuration.
const (
	BusMemory = "memory"
	BusRedis  = "redis"

	DirectoryMemory = "memory"
	DirectorySQLite = "sqlite"
)

// Config captures service-level configuration knobs. Feature packages
// (gateway, ingest, bus backends) pull from these nested structs.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Bus       BusConfig       `mapstructure:"bus" json:"bus"`
	Directory DirectoryConfig `mapstructure:"directory" json:"directory"`
	Gateway   GatewayConfig   `mapstructure:"gateway" json:"gateway"`
	Ingest    IngestConfig    `mapstructure:"ingest" json:"ingest"`
	Health    HealthConfig    `mapstructure:"health" json:"health"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// BusConfig selects and tunes the pub/sub backend.
type BusConfig struct {
	Driver    string      `mapstructure:"driver" json:"driver"`
	QueueSize int         `mapstructure:"queue_size" json:"queue_size"`
	Redis     RedisConfig `mapstructure:"redis" json:"redis"`
}

// RedisConfig holds connection settings for the redis bus driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// DirectoryConfig selects the tenant directory backend.
type DirectoryConfig struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"dsn"`
}

// GatewayConfig tunes streaming connection handling.
type GatewayConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	SendBuffer        int           `mapstructure:"send_buffer" json:"send_buffer"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace"`
}

// IngestConfig tunes webhook intake.
type IngestConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}

// HealthConfig tunes the readiness tracker.
type HealthConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`
}

// Defaults returns the baseline configuration: in-process bus and directory,
// suitable for a single-node deployment or local development.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Bus: BusConfig{
			Driver:    BusMemory,
			QueueSize: 256,
			Redis:     RedisConfig{Addr: "localhost:6379"},
		},
		Directory: DirectoryConfig{Driver: DirectoryMemory},
		Gateway: GatewayConfig{
			HeartbeatInterval: 30 * time.Second,
			SendBuffer:        64,
			WriteTimeout:      10 * time.Second,
			ShutdownGrace:     5 * time.Second,
		},
		Ingest: IngestConfig{MaxBodyBytes: 1 << 20},
		Health: HealthConfig{FailureThreshold: 5},
	}
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.Bus.Driver {
	case BusMemory:
	case BusRedis:
		if c.Bus.Redis.Addr == "" {
			return errors.New("bus.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown bus.driver %q", c.Bus.Driver)
	}
	switch c.Directory.Driver {
	case DirectoryMemory:
	case DirectorySQLite:
		if c.Directory.DSN == "" {
			return errors.New("directory.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown directory.driver %q", c.Directory.Driver)
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus.queue_size must be > 0")
	}
	if c.Gateway.HeartbeatInterval <= 0 {
		return fmt.Errorf("gateway.heartbeat_interval must be > 0")
	}
	if c.Gateway.SendBuffer <= 0 {
		return fmt.Errorf("gateway.send_buffer must be > 0")
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		return fmt.Errorf("ingest.max_body_bytes must be > 0")
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be > 0")
	}
	return nil
}

// Load decodes arbitrary input (struct, map, cfg struct) using cfgx helpers.
// While cfgx.Build still returns zero values, we fallback to a lightweight
// decoder to keep smoke tests meaningful. Once cfgx is fully implemented we
// can drop the fallback.
func Load(input any, opts ...LoadOption) (Config, error) {
	settings := loadOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := cfgx.Build(input, settings.buildOpts...)
	if err != nil {
		return Config{}, err
	}

	if isZero(cfg) {
		if err := decodeFallback(input, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOption lets callers amend cfgx build options.
type LoadOption func(*loadOptions)

type loadOptions struct {
	buildOpts []cfgx.Option[Config]
}

// WithBuildOptions forwards cfgx options (duration hooks, preprocessors, etc.).
func WithBuildOptions(opts ...cfgx.Option[Config]) LoadOption {
	return func(lo *loadOptions) {
		lo.buildOpts = append(lo.buildOpts, opts...)
	}
}

func (c Config) withDefaults() Config {
	defaults := Defaults()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = defaults.Bus.Driver
	}
	if c.Bus.QueueSize == 0 {
		c.Bus.QueueSize = defaults.Bus.QueueSize
	}
	if c.Bus.Redis.Addr == "" {
		c.Bus.Redis.Addr = defaults.Bus.Redis.Addr
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = defaults.Directory.Driver
	}
	if c.Gateway.HeartbeatInterval == 0 {
		c.Gateway.HeartbeatInterval = defaults.Gateway.HeartbeatInterval
	}
	if c.Gateway.SendBuffer == 0 {
		c.Gateway.SendBuffer = defaults.Gateway.SendBuffer
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = defaults.Gateway.WriteTimeout
	}
	if c.Gateway.ShutdownGrace == 0 {
		c.Gateway.ShutdownGrace = defaults.Gateway.ShutdownGrace
	}
	if c.Ingest.MaxBodyBytes == 0 {
		c.Ingest.MaxBodyBytes = defaults.Ingest.MaxBodyBytes
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = defaults.Health.FailureThreshold
	}
	return c
}

func isZero(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func decodeFallback(input any, cfg *Config) error {
	switch v := input.(type) {
	case nil:
		return nil
	case Config:
		*cfg = v
		return nil
	case *Config:
		if v != nil {
			*cfg = *v
		}
		return nil
	case map[string]any:
		return decodeMap(v, cfg)
	default:
		return fmt.Errorf("unsupported config input type: %T", input)
	}
}

func decodeMap(input map[string]any, cfg *Config) error {
	if input == nil {
		return nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, cfg)
}
