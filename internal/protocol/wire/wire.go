// Package wire owns exact-byte stream I/O for the frame codec.
//
// Ownership boundary:
// - looping over partial reads and writes
// - retrying transient would-block results
//
// Callers above this package only ever see all-or-nothing results.
package wire

import (
	"errors"
	"fmt"
	"io"
	"os"

	"code.hybscloud.com/iox"
)

var (
	ErrShortRead  = errors.New("wire: short read")
	ErrShortWrite = errors.New("wire: short write")
	ErrNegativeN  = errors.New("wire: negative length")
)

// maxStalls bounds consecutive zero-progress calls before giving up.
const maxStalls = 16

// ReadExact reads exactly n bytes from r.
//
// A stream that ends before n bytes yields ErrShortRead wrapping the cause
// (io.EOF at offset 0, io.ErrUnexpectedEOF otherwise).
func ReadExact(r io.Reader, n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeN
	}
	buf := make([]byte, n)
	if err := ReadInto(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto fills buf completely from r. Deadline expiry is final, never
// retried as a would-block.
func ReadInto(r io.Reader, buf []byte) error {
	var bo iox.Backoff
	read := 0
	stalls := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if n > 0 {
			stalls = 0
			bo.Reset()
		}
		if read == len(buf) {
			return nil
		}
		switch {
		case err == nil:
			if n == 0 {
				stalls++
				if stalls >= maxStalls {
					return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortRead, read, len(buf), io.ErrNoProgress)
				}
			}
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortRead, read, len(buf), err)
		case iox.IsWouldBlock(err):
			bo.Wait()
		case errors.Is(err, io.EOF):
			cause := io.ErrUnexpectedEOF
			if read == 0 {
				cause = io.EOF
			}
			return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortRead, read, len(buf), cause)
		default:
			return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortRead, read, len(buf), err)
		}
	}
	return nil
}

// WriteAll writes every byte of b to w.
func WriteAll(w io.Writer, b []byte) error {
	var bo iox.Backoff
	written := 0
	stalls := 0
	for written < len(b) {
		n, err := w.Write(b[written:])
		if n < 0 || n > len(b)-written {
			return fmt.Errorf("%w: invalid write count %d", ErrShortWrite, n)
		}
		written += n
		if n > 0 {
			stalls = 0
			bo.Reset()
		}
		if written == len(b) {
			return nil
		}
		switch {
		case err == nil:
			if n == 0 {
				stalls++
				if stalls >= maxStalls {
					return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortWrite, written, len(b), io.ErrShortWrite)
				}
			}
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortWrite, written, len(b), err)
		case iox.IsWouldBlock(err):
			bo.Wait()
		default:
			return fmt.Errorf("%w: %d/%d bytes: %w", ErrShortWrite, written, len(b), err)
		}
	}
	return nil
}
