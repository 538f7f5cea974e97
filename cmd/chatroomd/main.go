package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/chatroom/internal/config"
	"github.com/danmuck/chatroom/internal/logging"
	"github.com/danmuck/chatroom/internal/server"
)

func main() {
	logging.ConfigureRuntime()

	configPath := flag.String("config", "", "path to chatroomd config.toml (defaults apply when empty)")
	flag.Parse()

	cfg := server.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chatroomd: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}

	svc := server.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatroomd: %v\n", err)
		os.Exit(1)
	}
}
