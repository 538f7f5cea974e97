//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package session

import (
	"errors"
	"syscall"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// peek runs under Control, not Read: Control only pins the descriptor, so it
// neither waits for a reader parked on the same conn nor consults deadlines.
func peek(raw syscall.RawConn) (int, error) {
	var (
		buf   [1]byte
		n     int
		recvE error
	)
	err := raw.Control(func(fd uintptr) {
		n, _, recvE = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	})
	if err != nil {
		return 0, err
	}
	if errors.Is(recvE, unix.EAGAIN) || errors.Is(recvE, unix.EWOULDBLOCK) || errors.Is(recvE, unix.EINTR) {
		return 0, iox.ErrWouldBlock
	}
	return n, recvE
}
