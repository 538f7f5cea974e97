package session

import (
	"net"
	"syscall"

	"code.hybscloud.com/iox"
)

// IsDisconnected peeks one byte without consuming it or blocking.
//
// Zero bytes means the peer closed; a would-block result means the peer is
// alive with nothing to read; any other failure counts as disconnected.
// Connections without a raw socket cannot be peeked and report alive.
func IsDisconnected(conn net.Conn) bool {
	if conn == nil {
		return true
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}
	n, err := peek(raw)
	return classifyPeek(n, err)
}

func classifyPeek(n int, err error) bool {
	switch {
	case err == nil:
		return n == 0
	case iox.IsWouldBlock(err):
		return false
	default:
		return true
	}
}
