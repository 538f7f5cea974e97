package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
)

const (
	Prompt    = "(you): "
	eraseLine = "\033[2K\r"
)

// Terminal couples line input with incoming messages. On an interactive
// terminal incoming lines replace the pending prompt, which is then redrawn.
type Terminal struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	idle        time.Duration

	mu sync.Mutex
}

func NewTerminal(in io.Reader, out io.Writer, interactive bool, idle time.Duration) *Terminal {
	if idle <= 0 {
		idle = DefaultInputTimeout
	}
	return &Terminal{in: in, out: out, interactive: interactive, idle: idle}
}

// StdTerminal reads stdin and writes through a colorable stdout.
func StdTerminal(idle time.Duration) *Terminal {
	fd := os.Stdin.Fd()
	interactive := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return NewTerminal(os.Stdin, colorable.NewColorableStdout(), interactive, idle)
}

// Run relays input lines to conn and prints broadcasts from it until input
// ends, the idle timeout passes, ctx is cancelled, or the server goes away.
// Only the last case is an error. conn is closed on return.
func (t *Terminal) Run(ctx context.Context, conn *Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			t.printIncoming(msg)
		}
	}()

	lines := make(chan string)
	inputDone := make(chan error, 1)
	go t.readLines(ctx, lines, inputDone)

	idle := time.NewTimer(t.idle)
	defer idle.Stop()
	t.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErr:
			if errors.Is(err, ErrDisconnected) {
				t.clearLine()
				return err
			}
			return nil
		case err := <-inputDone:
			if err != nil && !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("chatroom.client input failed")
			}
			return nil
		case <-idle.C:
			t.clearLine()
			log.Warn().Dur("timeout", t.idle).Msg("chatroom.client no input, closing")
			return nil
		case line := <-lines:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(t.idle)
			t.submit(conn, line)
			t.prompt()
		}
	}
}

func (t *Terminal) submit(conn *Conn, line string) {
	if line == "" {
		return
	}
	if err := conn.Send(line); err != nil {
		if errors.Is(err, ErrMessageTooLong) {
			log.Warn().
				Int("length", len(line)).
				Int("limit", MaxMessageLen).
				Msg("chatroom.client message not sent, too long")
			return
		}
		log.Error().Err(err).Msg("chatroom.client send failed")
	}
}

func (t *Terminal) readLines(ctx context.Context, lines chan<- string, done chan<- error) {
	r := bufio.NewReader(t.in)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			done <- err
			return
		}
	}
}

func (t *Terminal) printIncoming(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interactive {
		fmt.Fprint(t.out, eraseLine)
	}
	fmt.Fprintln(t.out, msg)
	if t.interactive {
		fmt.Fprint(t.out, Prompt)
	}
}

func (t *Terminal) prompt() {
	if !t.interactive {
		return
	}
	t.mu.Lock()
	fmt.Fprint(t.out, Prompt)
	t.mu.Unlock()
}

func (t *Terminal) clearLine() {
	if !t.interactive {
		return
	}
	t.mu.Lock()
	fmt.Fprint(t.out, eraseLine)
	t.mu.Unlock()
}
