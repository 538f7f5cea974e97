package session

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines per-connection timing.
type Config struct {
	// PollInterval bounds each readiness wait so shutdown is observed without traffic.
	PollInterval time.Duration
	// ReadTimeout bounds reading the rest of a frame once its prefix arrived.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	Backoff        BackoffConfig
}

// DefaultConfig returns the chatroom session defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   5 * time.Second,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		ConnectTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 && c.Backoff.Multiplier == 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout must be positive", ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout must be positive", ErrInvalidConfig)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		return fmt.Errorf("%w: backoff max_delay below initial_delay", ErrInvalidConfig)
	}
	return nil
}
