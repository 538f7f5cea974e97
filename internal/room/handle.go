package room

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/danmuck/chatroom/internal/protocol/wire"
)

var ErrHandleClosed = errors.New("room: handle closed")

// handleSeq issues process-unique handle ids. Unlike file descriptors they are
// never recycled.
var handleSeq atomix.Uint32

// Handle is one live connection. The dispatch loop that accepted it owns it;
// the registry only keeps a reference for routing.
type Handle struct {
	id     uint32
	conn   net.Conn
	remote string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

func NewHandle(conn net.Conn) *Handle {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Handle{
		id:     handleSeq.Add(1),
		conn:   conn,
		remote: remote,
	}
}

func (h *Handle) ID() uint32 {
	return h.id
}

func (h *Handle) Conn() net.Conn {
	return h.conn
}

func (h *Handle) RemoteAddr() string {
	return h.remote
}

func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Write sends b as one unit. Concurrent writers are serialized so frames from
// different senders never interleave on the wire.
func (h *Handle) Write(b []byte, timeout time.Duration) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if timeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer func() { _ = h.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wire.WriteAll(h.conn, b)
}

// Close shuts the connection down in both directions and releases it.
// Only the first call has any effect.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if cw, ok := h.conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		h.closeErr = h.conn.Close()
	})
	return h.closeErr
}
