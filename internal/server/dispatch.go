package server

import (
	"bufio"
	"context"
	"errors"
	"os"
	"time"

	"github.com/danmuck/chatroom/internal/protocol/frame"
	"github.com/danmuck/chatroom/internal/protocol/session"
	"github.com/danmuck/chatroom/internal/room"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownCommand = errors.New("server: unknown command")
	ErrRegistryFull   = errors.New("server: registry full")
)

// State is the dispatch loop lifecycle.
type State int

const (
	StateRegistering State = iota
	StateServing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StateServing:
		return "serving"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// dispatcher owns one connection from admission to eviction.
type dispatcher struct {
	handle *room.Handle
	reg    *room.Registry
	router *room.Router
	cfg    session.Config
	reader *bufio.Reader
	state  State
}

func newDispatcher(h *room.Handle, reg *room.Registry, router *room.Router, cfg session.Config) *dispatcher {
	return &dispatcher{
		handle: h,
		reg:    reg,
		router: router,
		cfg:    cfg.WithDefaults(),
		reader: bufio.NewReaderSize(h.Conn(), frame.MaxFrameLen),
		state:  StateRegistering,
	}
}

// register admits the handle. On failure the connection is closed and the
// loop is terminated without serving.
func (d *dispatcher) register() error {
	if d.state != StateRegistering {
		return nil
	}
	if !d.reg.Insert(d.handle) {
		d.state = StateTerminated
		_ = d.handle.Close()
		return ErrRegistryFull
	}
	d.state = StateServing
	return nil
}

// serve runs until the peer goes away, a transport error occurs, or ctx is
// cancelled. The handle is evicted on return. A nil result means the session
// ended cleanly.
func (d *dispatcher) serve(ctx context.Context) error {
	if d.state != StateServing {
		return nil
	}
	err := d.loop(ctx)
	d.state = StateTerminated
	d.reg.Remove(d.handle)
	_ = d.handle.Close()
	return err
}

func (d *dispatcher) loop(ctx context.Context) error {
	conn := d.handle.Conn()
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Readiness wait. Peek leaves the byte for ReadFrame.
		if err := conn.SetReadDeadline(time.Now().Add(d.cfg.PollInterval)); err != nil {
			return err
		}
		if _, err := d.reader.Peek(1); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}

		if err := conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout)); err != nil {
			return err
		}
		f, err := frame.ReadFrame(d.reader)
		switch {
		case err == nil:
			d.route(f)
		case errors.Is(err, frame.ErrOrderlyClose):
			return nil
		case frame.IsProtocolError(err):
			log.Warn().
				Uint32("handle", d.handle.ID()).
				Str("remote", d.handle.RemoteAddr()).
				Err(err).
				Msg("chatroom.dispatch dropped frame")
		default:
			return err
		}
	}
}

func (d *dispatcher) route(f frame.Frame) {
	switch f.Command {
	case frame.CommandBroadcast:
		d.router.Broadcast(d.handle, f.Payload)
	default:
		log.Warn().
			Uint32("handle", d.handle.ID()).
			Str("remote", d.handle.RemoteAddr()).
			Stringer("command", f.Command).
			Err(ErrUnknownCommand).
			Msg("chatroom.dispatch dropped frame")
	}
}
