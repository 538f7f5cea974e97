package server

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/chatroom/internal/protocol/session"
	"github.com/danmuck/chatroom/internal/room"
	"github.com/rs/zerolog/log"
)

// ServiceConfig configures the chatroom endpoint.
type ServiceConfig struct {
	ListenAddr      string
	Capacity        int
	Label           string
	ShutdownTimeout time.Duration
	Session         session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":8777",
		Capacity:        room.DefaultCapacity,
		Label:           room.DefaultLabel,
		ShutdownTimeout: 10 * time.Second,
		Session:         session.DefaultConfig(),
	}
}

// Stats counts admissions over the service lifetime.
type Stats struct {
	Accepted uint64
	Rejected uint64
	Active   int64
}

// Service accepts chat clients and routes their broadcasts.
type Service struct {
	cfg      ServiceConfig
	registry *room.Registry
	router   *room.Router

	wg       sync.WaitGroup
	active   atomic.Int64
	accepted atomic.Uint64
	rejected atomic.Uint64
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// NewServiceWithConfig fills unset fields from DefaultServiceConfig.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Label == "" {
		cfg.Label = def.Label
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.Session = cfg.Session.WithDefaults()

	reg := room.NewRegistry(cfg.Capacity, nil)
	return &Service{
		cfg:      cfg,
		registry: reg,
		router:   room.NewRouter(reg, cfg.Label, cfg.Session.WriteTimeout),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Registry() *room.Registry {
	return s.registry
}

func (s *Service) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Active:   s.active.Load(),
	}
}

// Run listens on the configured address and blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Session.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Int("capacity", s.registry.Cap()).
		Msg("chatroom.server listening")
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled or ln fails, then drains the
// dispatch loops. Serve owns ln and closes it.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = err
				log.Error().Err(err).Msg("chatroom.server accept failed")
			}
			break
		}
		s.admit(ctx, conn)
	}

	cancel()
	s.drain()
	return acceptErr
}

func (s *Service) admit(ctx context.Context, conn net.Conn) {
	h := room.NewHandle(conn)
	d := newDispatcher(h, s.registry, s.router, s.cfg.Session)
	if err := d.register(); err != nil {
		s.rejected.Add(1)
		log.Warn().
			Str("remote", h.RemoteAddr()).
			Int("capacity", s.registry.Cap()).
			Err(err).
			Msg("chatroom.server rejected connection")
		return
	}
	s.accepted.Add(1)
	active := s.active.Add(1)
	log.Info().
		Uint32("handle", h.ID()).
		Str("remote", h.RemoteAddr()).
		Int64("active_clients", active).
		Msg("chatroom.server got connection")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := d.serve(ctx)
		remaining := s.active.Add(-1)
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Uint32("handle", h.ID()).
			Str("remote", h.RemoteAddr()).
			Int64("active_clients", remaining).
			Msg("chatroom.server client disconnected")
	}()
}

// closeGrace bounds the wait for dispatch loops after their sockets are closed.
const closeGrace = 2 * time.Second

// drain waits for dispatch loops to observe cancellation, then closes
// whatever is still registered.
func (s *Service) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn().
			Dur("timeout", s.cfg.ShutdownTimeout).
			Int64("active_clients", s.active.Load()).
			Msg("chatroom.server shutdown timed out")
	}
	if n := s.registry.CloseAll(); n > 0 {
		log.Info().Int("closed", n).Msg("chatroom.server closed remaining connections")
	}

	// Closed sockets fail the loops' pending reads; give them a moment to exit.
	grace := time.NewTimer(closeGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		log.Warn().
			Int64("active_clients", s.active.Load()).
			Msg("chatroom.server dispatch loops still running after close")
	}
	log.Info().Msg("chatroom.server stopped")
}
