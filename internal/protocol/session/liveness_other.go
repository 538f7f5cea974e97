//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package session

import (
	"syscall"

	"code.hybscloud.com/iox"
)

// peek cannot inspect the socket here; report alive.
func peek(raw syscall.RawConn) (int, error) {
	return 0, iox.ErrWouldBlock
}
