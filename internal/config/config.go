// Package config loads ringbus's runtime configuration from environment
// variables (with an optional .env file for local development), the same
// precedence and tooling the teacher's own server used: ENV vars override
// the .env file, which overrides the struct tag defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable a broker, client, or replication bridge
// process needs. Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Broker identity
	Channel       string `env:"RINGBUS_CHANNEL" envDefault:"ringbus"`
	SocketDir     string `env:"RINGBUS_SOCKET_DIR" envDefault:"/dev/shm"`
	QueueCapacity int    `env:"RINGBUS_QUEUE_CAPACITY" envDefault:"256"`

	// Default topic sizing. Validated and logged only; the broker does not
	// read these and creates topics with the sizes a request carries.
	DefaultRingCapacity uint64 `env:"RINGBUS_DEFAULT_RING_CAPACITY" envDefault:"1024"`
	DefaultBufferBytes  uint64 `env:"RINGBUS_DEFAULT_BUFFER_BYTES" envDefault:"16777216"`

	// Replication
	ReplicationMTU  int    `env:"RINGBUS_REPLICATION_MTU" envDefault:"1400"`
	TCPBindAddr     string `env:"RINGBUS_TCP_BIND_ADDR" envDefault:":7070"`
	UDPBindAddr     string `env:"RINGBUS_UDP_BIND_ADDR" envDefault:":7071"`
	ReplicationRate float64 `env:"RINGBUS_REPLICATION_RATE" envDefault:"10000"` // datagrams/sec cap

	// Logging
	LogLevel  string `env:"RINGBUS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RINGBUS_LOG_FORMAT" envDefault:"json"`

	// Monitoring
	MetricsAddr     string        `env:"RINGBUS_METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"RINGBUS_METRICS_INTERVAL" envDefault:"15s"`
}

// Load reads configuration from a .env file (if present) and the
// environment, validates it, and returns it. A nil logger is fine; Load
// then skips the one informational line about .env.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration overrides from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// LoadFile layers a YAML file under the environment: values present in the
// file are applied first, then ENV vars (parsed by Load) override them.
// This is the "ENV > file > defaults" precedence a deployment with a
// checked-in config file alongside per-host ENV overrides expects.
func LoadFile(path string, logger *zerolog.Logger) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("RINGBUS_CHANNEL is required")
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("RINGBUS_QUEUE_CAPACITY must be > 0, got %d", c.QueueCapacity)
	}
	if c.DefaultRingCapacity < 1 {
		return fmt.Errorf("RINGBUS_DEFAULT_RING_CAPACITY must be > 0, got %d", c.DefaultRingCapacity)
	}
	if c.ReplicationMTU <= 15 {
		return fmt.Errorf("RINGBUS_REPLICATION_MTU must exceed the 15-byte fragment header, got %d", c.ReplicationMTU)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("RINGBUS_LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("RINGBUS_LOG_FORMAT must be one of json, console (got %s)", c.LogFormat)
	}

	return nil
}

// LogFields logs the loaded configuration at Info level, structured the
// way the rest of ringbus logs.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("channel", c.Channel).
		Str("socket_dir", c.SocketDir).
		Int("queue_capacity", c.QueueCapacity).
		Uint64("default_ring_capacity", c.DefaultRingCapacity).
		Uint64("default_buffer_bytes", c.DefaultBufferBytes).
		Int("replication_mtu", c.ReplicationMTU).
		Str("tcp_bind_addr", c.TCPBindAddr).
		Str("udp_bind_addr", c.UDPBindAddr).
		Float64("replication_rate", c.ReplicationRate).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Msg("configuration loaded")
}
