package room

import (
	"time"

	"github.com/danmuck/chatroom/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const DefaultLabel = "client: "

// Delivery summarizes one fan-out.
type Delivery struct {
	Targets   int
	Delivered int
	Failed    int
}

// Router relays broadcast payloads to every other registered handle.
type Router struct {
	reg          *Registry
	label        string
	writeTimeout time.Duration
}

// NewRouter binds a router to reg. An empty label keeps payloads unlabeled;
// a non-positive writeTimeout disables the per-write deadline.
func NewRouter(reg *Registry, label string, writeTimeout time.Duration) *Router {
	return &Router{reg: reg, label: label, writeTimeout: writeTimeout}
}

func (r *Router) Label() string {
	return r.label
}

// Broadcast sends the labeled payload to every handle except sender. Delivery
// is best effort: a failed target is logged and skipped.
func (r *Router) Broadcast(sender *Handle, payload []byte) Delivery {
	out, err := frame.Encode(frame.CommandBroadcast, labelPayload(r.label, payload))
	if err != nil {
		// labelPayload bounds the size, so this is unreachable.
		log.Error().Err(err).Msg("chatroom.router encode failed")
		return Delivery{}
	}

	targets := r.reg.SnapshotTargets(sender)
	d := Delivery{Targets: len(targets)}
	for _, t := range targets {
		if err := t.Write(out, r.writeTimeout); err != nil {
			d.Failed++
			log.Warn().
				Uint32("handle", t.ID()).
				Str("remote", t.RemoteAddr()).
				Err(err).
				Msg("chatroom.router send failed")
			continue
		}
		d.Delivered++
	}

	ev := log.Debug().
		Int("targets", d.Targets).
		Int("delivered", d.Delivered).
		Int("failed", d.Failed)
	if sender != nil {
		ev = ev.Uint32("sender", sender.ID())
	}
	ev.Msg("chatroom.router broadcast")
	return d
}

// labelPayload prepends label and clips the result to one frame. A clipped
// payload keeps the source's trailing NUL so receivers still see a C string.
func labelPayload(label string, payload []byte) []byte {
	out := make([]byte, 0, len(label)+len(payload))
	out = append(out, label...)
	out = append(out, payload...)
	if len(out) <= frame.MaxPayloadLen {
		return out
	}
	out = out[:frame.MaxPayloadLen]
	if n := len(payload); n > 0 && payload[n-1] == 0 {
		out[frame.MaxPayloadLen-1] = 0
	}
	return out
}
