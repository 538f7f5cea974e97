package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// DefaultPath is where configgen reads and writes kind's file.
func DefaultPath(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return "cmd/chatroomd/config.toml", nil
	case KindClient:
		return "cmd/chatroom/config.toml", nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Validate loads path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerConfig(path)
		return err
	case KindClient:
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `# chatroomd
addr = ":8777"
capacity = 100
label = "client: "

poll_interval = "5s"
read_timeout = "15s"
write_timeout = "15s"
shutdown_timeout = "10s"
`

const clientTemplate = `# chatroom
port = 8777
connect_timeout = "5s"
connect_attempts = 1
input_timeout = "10m"
poll_interval = "5s"
`
