package main

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-proofcast/pkg/config"
	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// duration lets TOML carry values like "30s" instead of nanosecond counts.
type duration struct {
	time.Duration
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type fileConfig struct {
	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`
	Bus struct {
		Driver    string `toml:"driver"`
		QueueSize int    `toml:"queue_size"`
		Redis     struct {
			Addr     string `toml:"addr"`
			Password string `toml:"password"`
			DB       int    `toml:"db"`
		} `toml:"redis"`
	} `toml:"bus"`
	Directory struct {
		Driver string `toml:"driver"`
		DSN    string `toml:"dsn"`
	} `toml:"directory"`
	Gateway struct {
		HeartbeatInterval duration `toml:"heartbeat_interval"`
		SendBuffer        int      `toml:"send_buffer"`
		WriteTimeout      duration `toml:"write_timeout"`
		ShutdownGrace     duration `toml:"shutdown_grace"`
	} `toml:"gateway"`
	Ingest struct {
		MaxBodyBytes int64 `toml:"max_body_bytes"`
	} `toml:"ingest"`
	Health struct {
		FailureThreshold int `toml:"failure_threshold"`
	} `toml:"health"`
}

// loadConfig reads a TOML file and resolves it through the config package so
// defaults and validation apply. An empty path yields the defaults.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return config.Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := config.Config{
		Server: config.ServerConfig{Addr: fc.Server.Addr},
		Bus: config.BusConfig{
			Driver:    fc.Bus.Driver,
			QueueSize: fc.Bus.QueueSize,
			Redis: config.RedisConfig{
				Addr:     fc.Bus.Redis.Addr,
				Password: fc.Bus.Redis.Password,
				DB:       fc.Bus.Redis.DB,
			},
		},
		Directory: config.DirectoryConfig{
			Driver: fc.Directory.Driver,
			DSN:    fc.Directory.DSN,
		},
		Gateway: config.GatewayConfig{
			HeartbeatInterval: fc.Gateway.HeartbeatInterval.Duration,
			SendBuffer:        fc.Gateway.SendBuffer,
			WriteTimeout:      fc.Gateway.WriteTimeout.Duration,
			ShutdownGrace:     fc.Gateway.ShutdownGrace.Duration,
		},
		Ingest: config.IngestConfig{MaxBodyBytes: fc.Ingest.MaxBodyBytes},
		Health: config.HealthConfig{FailureThreshold: fc.Health.FailureThreshold},
	}

	return config.Load(cfg)
}

// writeSampleConfig creates a starter config file, refusing to overwrite.
func writeSampleConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(configTemplate), 0o644)
}
