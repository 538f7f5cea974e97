package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/chatroom/internal/client"
	"github.com/danmuck/chatroom/internal/config"
	"github.com/danmuck/chatroom/internal/logging"
	"github.com/rs/zerolog/log"
)

const usage = "usage: chatroom [-port N] [-config path] address"

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run returns the process exit code: 2 for usage errors, 1 when the server
// cannot be reached or the session fails.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("chatroom", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}
	port := fs.Int("port", 0, "server port (default 8777)")
	configPath := fs.String("config", "", "path to chatroom config.toml")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	cfg := client.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "chatroom: %v\n", err)
			return 2
		}
		cfg = loaded
	}
	cfg.Address = fs.Arg(0)
	if *port > 0 {
		cfg.Port = *port
	}

	c, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "chatroom: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := c.Connect(ctx)
	if err != nil {
		log.Error().Str("addr", cfg.Target()).Err(err).Msg("chatroom.client failed to connect")
		return 1
	}

	err = client.StdTerminal(cfg.InputTimeout).Run(ctx, conn)
	switch {
	case errors.Is(err, client.ErrDisconnected):
		log.Warn().Msg("chatroom.client you were disconnected")
	case err != nil:
		log.Error().Err(err).Msg("chatroom.client session failed")
		return 1
	default:
		log.Info().Msg("chatroom.client closed connection")
	}
	return 0
}
