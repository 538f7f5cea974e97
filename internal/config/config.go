package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chatroom/internal/client"
	"github.com/danmuck/chatroom/internal/protocol/frame"
	"github.com/danmuck/chatroom/internal/server"
)

var ErrInvalidConfig = errors.New("config: invalid")

type serverFile struct {
	Addr            string `toml:"addr"`
	Capacity        int    `toml:"capacity"`
	Label           string `toml:"label"`
	PollInterval    string `toml:"poll_interval"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type clientFile struct {
	Port            int    `toml:"port"`
	ConnectTimeout  string `toml:"connect_timeout"`
	ConnectAttempts int    `toml:"connect_attempts"`
	InputTimeout    string `toml:"input_timeout"`
	PollInterval    string `toml:"poll_interval"`
}

// LoadServerConfig overlays the keys present in path onto the server defaults.
func LoadServerConfig(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config (%s): %w", path, err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return server.ServiceConfig{}, err
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("capacity") {
		cfg.Capacity = raw.Capacity
	}
	if meta.IsDefined("label") {
		cfg.Label = raw.Label
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", raw.PollInterval, &cfg.Session.PollInterval},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return server.ServiceConfig{}, err
		}
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return server.ServiceConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig overlays the keys present in path onto the client
// defaults. The server address is never read from file.
func LoadClientConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config (%s): %w", path, err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return client.Config{}, err
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"input_timeout", raw.InputTimeout, &cfg.InputTimeout},
		{"poll_interval", raw.PollInterval, &cfg.Session.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return client.Config{}, err
		}
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

func ValidateServerConfig(cfg server.ServiceConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("%w: server addr is required", ErrInvalidConfig)
	}
	if cfg.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	if len(cfg.Label) >= frame.MaxPayloadLen {
		return fmt.Errorf("%w: label longer than %d bytes", ErrInvalidConfig, frame.MaxPayloadLen-1)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalidConfig)
	}
	if err := cfg.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func ValidateClientConfig(cfg client.Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.ConnectAttempts < 0 {
		return fmt.Errorf("%w: connect_attempts must not be negative", ErrInvalidConfig)
	}
	if cfg.InputTimeout <= 0 {
		return fmt.Errorf("%w: input_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	}
	if err := cfg.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func parseDuration(key, raw string, dst *time.Duration) error {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, key, err)
	}
	*dst = d
	return nil
}

// rejectUndecoded catches misspelled keys that would otherwise be ignored.
func rejectUndecoded(meta toml.MetaData) error {
	keys := meta.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(names, ", "))
}
