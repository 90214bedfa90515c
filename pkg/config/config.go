// Package config holds the runtime configuration shared by the cowtag commands.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/cowtag/internal/collar"
	"github.com/srg/cowtag/internal/host"
)

// ErrInvalidConfig reports a configuration value out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// HostConfig holds gateway timings.
type HostConfig struct {
	CollarID         uint8         `yaml:"collar_id" default:"1"`
	DisconnectDelay  time.Duration `yaml:"disconnect_delay" default:"2s"`
	ReprovisionDelay time.Duration `yaml:"reprovision_delay" default:"20s"`
	SyncTimeout      time.Duration `yaml:"sync_timeout" default:"60s"`
	HistorySize      uint32        `yaml:"history_size" default:"64"`
	QueueSize        int           `yaml:"queue_size" default:"64"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"10s"`
}

// CollarConfig holds collar timings.
type CollarConfig struct {
	MotionEvery      time.Duration `yaml:"motion_every" default:"100ms"`
	EnvironmentEvery time.Duration `yaml:"environment_every" default:"30s"`
	DisconnectDelay  time.Duration `yaml:"disconnect_delay" default:"2s"`
	AdvInterval      time.Duration `yaml:"adv_interval" default:"1s"`
	PeriodicInterval time.Duration `yaml:"periodic_interval" default:"1s"`
	MotionRate       float64       `yaml:"motion_rate" default:"15"`
	Watchdog         time.Duration `yaml:"watchdog" default:"2s"`
}

// Config holds application configuration
type Config struct {
	LogLevel string       `yaml:"log_level" default:"info"`
	LogFile  string       `yaml:"log_file" default:"log.csv"`
	Host     HostConfig   `yaml:"host"`
	Collar   CollarConfig `yaml:"collar"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults and validates the result. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := cfg.Decode(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML from r onto c and validates the result.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c.Validate()
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.PanicLevel, fmt.Errorf("%w: log level %q (must be debug, info, warn, or error)", ErrInvalidConfig, c.LogLevel)
}

// Validate checks ranges the state machines rely on.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	positive := map[string]time.Duration{
		"host.disconnect_delay":    c.Host.DisconnectDelay,
		"host.reprovision_delay":   c.Host.ReprovisionDelay,
		"host.connect_timeout":     c.Host.ConnectTimeout,
		"collar.motion_every":      c.Collar.MotionEvery,
		"collar.environment_every": c.Collar.EnvironmentEvery,
		"collar.disconnect_delay":  c.Collar.DisconnectDelay,
		"collar.adv_interval":      c.Collar.AdvInterval,
		"collar.periodic_interval": c.Collar.PeriodicInterval,
		"collar.watchdog":          c.Collar.Watchdog,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
		}
	}

	// Sync timeout travels in 10 ms units in a uint16.
	if c.Host.SyncTimeout < 100*time.Millisecond || c.Host.SyncTimeout > 0xffff*10*time.Millisecond {
		return fmt.Errorf("%w: host.sync_timeout %s out of range [100ms, 655.35s]", ErrInvalidConfig, c.Host.SyncTimeout)
	}
	if c.Host.QueueSize <= 0 {
		return fmt.Errorf("%w: host.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Host.HistorySize == 0 {
		return fmt.Errorf("%w: host.history_size must be positive", ErrInvalidConfig)
	}
	if c.Collar.MotionRate <= 0 {
		return fmt.Errorf("%w: collar.motion_rate must be positive", ErrInvalidConfig)
	}
	if c.LogFile == "" {
		return fmt.Errorf("%w: log_file is empty", ErrInvalidConfig)
	}
	return nil
}

// HostOptions maps the host section onto the connection manager options.
func (c *Config) HostOptions() host.Options {
	opts := host.DefaultOptions()
	opts.CollarID = c.Host.CollarID
	opts.DisconnectDelay = c.Host.DisconnectDelay
	opts.ReprovisionDelay = c.Host.ReprovisionDelay
	opts.Sync.Timeout = uint16(c.Host.SyncTimeout / (10 * time.Millisecond))
	return opts
}

// CollarOptions maps the collar section onto the controller options.
func (c *Config) CollarOptions() collar.Options {
	opts := collar.DefaultOptions()
	opts.MotionEvery = c.Collar.MotionEvery
	opts.EnvironmentEvery = c.Collar.EnvironmentEvery
	opts.CloseDelay = c.Collar.DisconnectDelay
	opts.AdvInterval = c.Collar.AdvInterval
	opts.PeriodicInterval = c.Collar.PeriodicInterval
	opts.MotionRate = c.Collar.MotionRate
	return opts
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
