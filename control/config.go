// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Environment configuration for the process tree.

package control

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all tree configuration.
type Config struct {
	IPC     IPCConfig
	Logging LogConfig
	Workers int  `envconfig:"IPC_WORKERS" default:"2"`
	PinCPUs bool `envconfig:"IPC_PIN_CPUS" default:"false"`
}

// IPCConfig tunes message and descriptor transfer.
type IPCConfig struct {
	// SendRetryDelay is how long a full ring is left alone before the
	// outbound queue tries again.
	SendRetryDelay time.Duration `envconfig:"IPC_SEND_RETRY_DELAY" default:"50ms"`
	// SendTimeout bounds how long an fd receiver waits for its descriptor.
	SendTimeout time.Duration `envconfig:"IPC_SEND_TIMEOUT" default:"500ms"`
	// NotifyPipe selects a pipe instead of an eventfd for wakeups.
	NotifyPipe bool `envconfig:"IPC_NOTIFY_PIPE" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		IPC: IPCConfig{
			SendRetryDelay: 50 * time.Millisecond,
			SendTimeout:    500 * time.Millisecond,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Workers: 2,
	}
}

// Validate rejects values the tree cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("invalid config: IPC_WORKERS must be >= 0, got %d", c.Workers)
	}
	if c.IPC.SendRetryDelay <= 0 {
		return fmt.Errorf("invalid config: IPC_SEND_RETRY_DELAY must be positive, got %s", c.IPC.SendRetryDelay)
	}
	if c.IPC.SendTimeout < 0 {
		return fmt.Errorf("invalid config: IPC_SEND_TIMEOUT must not be negative, got %s", c.IPC.SendTimeout)
	}
	return nil
}
