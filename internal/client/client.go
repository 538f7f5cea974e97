package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatroom/internal/protocol/frame"
	"github.com/danmuck/chatroom/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("client: server address required")
	ErrMessageTooLong  = errors.New("client: message too long")
	ErrDisconnected    = errors.New("client: disconnected by server")
	ErrClosed          = errors.New("client: connection closed")
)

const (
	DefaultPort = 8777
	// MaxMessageLen leaves room for the trailing NUL every message carries.
	MaxMessageLen       = frame.MaxPayloadLen - 1
	DefaultInputTimeout = 10 * time.Minute
)

type Config struct {
	// Address is a host, or host:port to override Port.
	Address string
	Port    int
	// ConnectAttempts bounds dialing; zero or less retries until ctx ends.
	ConnectAttempts int
	InputTimeout    time.Duration
	Session         session.Config
}

func DefaultConfig() Config {
	return Config{
		Port:            DefaultPort,
		ConnectAttempts: 1,
		InputTimeout:    DefaultInputTimeout,
		Session:         session.DefaultConfig(),
	}
}

// Target returns the dial address.
func (c Config) Target() string {
	addr := strings.TrimSpace(c.Address)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

type Client struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	def := DefaultConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.InputTimeout <= 0 {
		cfg.InputTimeout = def.InputTimeout
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Connect dials the server, retrying with backoff up to ConnectAttempts.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	target := c.cfg.Target()
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			log.Info().Str("addr", target).Int("attempt", attempt).Msg("chatroom.client connected")
			return newConn(conn, c.cfg.Session), nil
		}
		log.Warn().Str("addr", target).Int("attempt", attempt).Err(err).Msg("chatroom.client dial failed")
		if !c.shouldRetry(attempt) {
			return nil, fmt.Errorf("connect %s: %w", target, err)
		}
		if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, attempt, c.rng); err != nil {
			return nil, err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.ConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.ConnectAttempts
}

// Conn is one chat session with the server.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    session.Config

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(conn net.Conn, cfg session.Config) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, frame.MaxFrameLen),
		cfg:    cfg.WithDefaults(),
	}
}

func (s *Conn) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Send broadcasts msg to every other client. msg goes out NUL-terminated.
func (s *Conn) Send(msg string) error {
	if len(msg) > MaxMessageLen {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(msg), MaxMessageLen)
	}
	payload := make([]byte, 0, len(msg)+1)
	payload = append(payload, msg...)
	payload = append(payload, 0)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return frame.WriteFrame(s.conn, frame.CommandBroadcast, payload)
}

// Receive blocks until the next broadcast arrives and returns its text.
// Malformed frames are skipped. A server that goes away yields
// ErrDisconnected.
func (s *Conn) Receive(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			return "", s.readErr(err)
		}
		if _, err := s.reader.Peek(1); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return "", s.readErr(err)
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return "", s.readErr(err)
		}
		f, err := frame.ReadFrame(s.reader)
		switch {
		case err == nil:
		case frame.IsProtocolError(err):
			log.Warn().Err(err).Msg("chatroom.client dropped frame")
			continue
		default:
			return "", s.readErr(err)
		}
		if f.Command != frame.CommandBroadcast {
			log.Warn().Stringer("command", f.Command).Msg("chatroom.client dropped frame")
			continue
		}
		return string(bytes.TrimRight(f.Payload, "\x00")), nil
	}
}

func (s *Conn) readErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}

// Close tells the server the session is over and releases the socket.
func (s *Conn) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_ = frame.WriteClose(s.conn)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
