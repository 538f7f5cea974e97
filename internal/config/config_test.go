package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/chatroom/internal/client"
	"github.com/danmuck/chatroom/internal/server"
	"github.com/danmuck/chatroom/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestServerTemplateMatchesDefaults(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "server.toml")
	if err := WriteTemplate(path, KindServer, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := server.DefaultServiceConfig()
	if cfg.ListenAddr != def.ListenAddr || cfg.Capacity != def.Capacity || cfg.Label != def.Label {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
	if cfg.Session.PollInterval != def.Session.PollInterval ||
		cfg.Session.ReadTimeout != def.Session.ReadTimeout ||
		cfg.Session.WriteTimeout != def.Session.WriteTimeout ||
		cfg.ShutdownTimeout != def.ShutdownTimeout {
		t.Fatalf("template timing drifted from defaults: %+v", cfg)
	}
}

func TestClientTemplateMatchesDefaults(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "client.toml")
	if err := WriteTemplate(path, KindClient, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := client.DefaultConfig()
	if cfg.Port != def.Port || cfg.ConnectAttempts != def.ConnectAttempts || cfg.InputTimeout != def.InputTimeout {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
	if cfg.Session.ConnectTimeout != def.Session.ConnectTimeout || cfg.Session.PollInterval != def.Session.PollInterval {
		t.Fatalf("template timing drifted from defaults: %+v", cfg.Session)
	}
}

func TestLoadServerConfigOverlaysOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)

	path := writeFile(t, `
addr = "127.0.0.1:9999"
capacity = 2
poll_interval = "250ms"
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" || cfg.Capacity != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Session.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Session.PollInterval)
	}
	def := server.DefaultServiceConfig()
	if cfg.Label != def.Label || cfg.Session.ReadTimeout != def.Session.ReadTimeout {
		t.Fatalf("undefined keys must keep defaults: %+v", cfg)
	}
}

func TestLoadClientConfigOverrides(t *testing.T) {
	testlog.Start(t)

	path := writeFile(t, `
port = 9100
connect_attempts = 0
input_timeout = "30s"
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9100 || cfg.ConnectAttempts != 0 || cfg.InputTimeout != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		load func(string) error
		body string
	}{
		{"bad duration", loadServer, `read_timeout = "soon"`},
		{"zero capacity", loadServer, `capacity = 0`},
		{"empty addr", loadServer, `addr = "  "`},
		{"long label", loadServer, `label = "` + strings.Repeat("l", 249) + `"`},
		{"unknown key", loadServer, `capactiy = 3`},
		{"port range", loadClient, `port = 70000`},
		{"negative attempts", loadClient, `connect_attempts = -1`},
		{"zero input timeout", loadClient, `input_timeout = "0s"`},
	}
	for _, tc := range cases {
		if err := tc.load(writeFile(t, tc.body)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWriteTemplateRespectsOverwrite(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, KindClient, false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, KindClient, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, KindServer, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if err := Validate(path, KindServer); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := DefaultPath("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestExampleConfigsLoad(t *testing.T) {
	testlog.Start(t)

	if _, err := LoadServerConfig(filepath.Join("..", "..", "cmd", "chatroomd", "ex.config.toml")); err != nil {
		t.Fatalf("server example: %v", err)
	}
	if _, err := LoadClientConfig(filepath.Join("..", "..", "cmd", "chatroom", "ex.config.toml")); err != nil {
		t.Fatalf("client example: %v", err)
	}
}

func loadServer(path string) error {
	_, err := LoadServerConfig(path)
	return err
}

func loadClient(path string) error {
	_, err := LoadClientConfig(path)
	return err
}
