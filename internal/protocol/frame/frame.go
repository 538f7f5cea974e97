package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/chatroom/internal/protocol/wire"
)

const (
	// HeaderLen is the id, command, and payload_size bytes that precede the payload.
	HeaderLen = 3
	// MaxBodyLen is the largest length prefix accepted on the wire.
	MaxBodyLen = 252
	// MaxPayloadLen is the largest payload one frame can carry.
	MaxPayloadLen = MaxBodyLen - HeaderLen
	// MaxFrameLen counts the prefix byte too.
	MaxFrameLen = 1 + MaxBodyLen

	DefaultID uint8 = 1
)

var (
	ErrOrderlyClose      = errors.New("frame: orderly close")
	ErrSizeLimitExceeded = errors.New("frame: size limit exceeded")
	ErrFormat            = errors.New("frame: format error")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
)

// Command identifies what the receiver should do with a payload.
type Command uint8

const (
	CommandBroadcast Command = 1
)

func (c Command) Known() bool {
	switch c {
	case CommandBroadcast:
		return true
	default:
		return false
	}
}

func (c Command) String() string {
	switch c {
	case CommandBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Frame is one decoded wire message.
type Frame struct {
	ID          uint8
	Command     Command
	PayloadSize uint8
	Payload     []byte
}

// BodyLen is the value carried in the length prefix.
func (f Frame) BodyLen() int {
	return HeaderLen + len(f.Payload)
}

// Encode builds [len][id][command][payload_size][payload].
func Encode(cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadLen)
	}
	buf := make([]byte, 1+HeaderLen+len(payload))
	buf[0] = byte(HeaderLen + len(payload))
	buf[1] = DefaultID
	buf[2] = byte(cmd)
	buf[3] = byte(len(payload))
	copy(buf[4:], payload)
	return buf, nil
}

// DecodeBody splits a body whose length prefix has already been consumed.
// The declared payload_size must account for every byte after the header.
func DecodeBody(body []byte) (Frame, error) {
	if len(body) < HeaderLen {
		return Frame{}, fmt.Errorf("%w: body of %d bytes has no header", ErrFormat, len(body))
	}
	if len(body) > MaxBodyLen {
		return Frame{}, fmt.Errorf("%w: body of %d bytes", ErrSizeLimitExceeded, len(body))
	}
	size := body[2]
	if HeaderLen+int(size) != len(body) {
		return Frame{}, fmt.Errorf(
			"%w: payload_size=%d but %d bytes follow the header",
			ErrFormat,
			size,
			len(body)-HeaderLen,
		)
	}
	payload := make([]byte, size)
	copy(payload, body[HeaderLen:])
	return Frame{
		ID:          body[0],
		Command:     Command(body[1]),
		PayloadSize: size,
		Payload:     payload,
	}, nil
}

// ReadFrame reads one frame from r.
//
// The prefix is validated before any body byte is read so the stream stays
// aligned on the next frame even after a malformed or oversized one. Protocol
// errors (ErrOrderlyClose, ErrSizeLimitExceeded, ErrFormat) are returned bare;
// anything else is a transport failure from the wire package.
func ReadFrame(r io.Reader) (Frame, error) {
	var prefix [1]byte
	if err := wire.ReadInto(r, prefix[:]); err != nil {
		return Frame{}, err
	}
	l := int(prefix[0])
	if l == 0 {
		return Frame{}, ErrOrderlyClose
	}
	if l > MaxBodyLen {
		if _, err := wire.ReadExact(r, MaxBodyLen); err != nil {
			return Frame{}, err
		}
		return Frame{}, fmt.Errorf("%w: prefix %d > %d", ErrSizeLimitExceeded, l, MaxBodyLen)
	}
	body, err := wire.ReadExact(r, l)
	if err != nil {
		return Frame{}, err
	}
	return DecodeBody(body)
}

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, cmd Command, payload []byte) error {
	buf, err := Encode(cmd, payload)
	if err != nil {
		return err
	}
	return wire.WriteAll(w, buf)
}

// WriteClose writes the zero length prefix that ends a session.
func WriteClose(w io.Writer) error {
	return wire.WriteAll(w, []byte{0})
}

// IsProtocolError reports whether err leaves the stream usable.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrSizeLimitExceeded)
}
