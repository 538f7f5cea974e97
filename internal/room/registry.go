package room

import (
	"sync"

	"github.com/danmuck/chatroom/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const DefaultCapacity = 100

// Probe reports whether a handle's peer is gone.
type Probe func(h *Handle) bool

// ProbeConn is the default Probe: a non-consuming peek on the socket.
func ProbeConn(h *Handle) bool {
	if h == nil || h.Closed() {
		return true
	}
	return session.IsDisconnected(h.Conn())
}

// slot is Empty when handle is nil.
type slot struct {
	handle *Handle
	gen    uint64
}

// Registry is a fixed-capacity table of active handles.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	size  int
	gen   uint64
	probe Probe
}

// NewRegistry creates a registry with capacity slots. Non-positive capacity
// falls back to DefaultCapacity and a nil probe to ProbeConn.
func NewRegistry(capacity int, probe Probe) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if probe == nil {
		probe = ProbeConn
	}
	return &Registry{
		slots: make([]slot, capacity),
		probe: probe,
	}
}

// Insert admits h. Re-inserting a present handle succeeds without change.
// When every slot is taken, the first slot whose peer is detected
// disconnected is reclaimed; otherwise Insert reports false and the caller
// must close h itself.
func (r *Registry) Insert(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	if r.indexOf(h) >= 0 {
		r.mu.Unlock()
		return true
	}
	if r.size < len(r.slots) {
		for i := range r.slots {
			if r.slots[i].handle == nil {
				r.gen++
				gen := r.gen
				r.slots[i] = slot{handle: h, gen: gen}
				r.size++
				r.mu.Unlock()
				log.Debug().
					Uint32("handle", h.ID()).
					Str("remote", h.RemoteAddr()).
					Int("slot", i).
					Uint64("gen", gen).
					Msg("chatroom.registry inserted")
				return true
			}
		}
	}
	for i := range r.slots {
		stale := r.slots[i].handle
		if stale == nil || !r.probe(stale) {
			continue
		}
		r.gen++
		gen := r.gen
		r.slots[i] = slot{handle: h, gen: gen}
		r.mu.Unlock()

		// The stale handle is already unreachable through the registry.
		_ = stale.Close()
		log.Info().
			Uint32("handle", h.ID()).
			Str("remote", h.RemoteAddr()).
			Uint32("stale_handle", stale.ID()).
			Int("slot", i).
			Uint64("gen", gen).
			Msg("chatroom.registry reclaimed stale slot")
		return true
	}
	r.mu.Unlock()
	return false
}

// Remove evicts h, closing its connection. Absent handles are ignored.
func (r *Registry) Remove(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	i := r.indexOf(h)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	gen := r.slots[i].gen
	r.slots[i] = slot{}
	r.size--
	r.mu.Unlock()

	_ = h.Close()
	log.Debug().
		Uint32("handle", h.ID()).
		Str("remote", h.RemoteAddr()).
		Int("slot", i).
		Uint64("gen", gen).
		Msg("chatroom.registry removed")
	return true
}

// SnapshotTargets copies every active handle except exclude, in slot order.
func (r *Registry) SnapshotTargets(exclude *Handle) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, r.size)
	for _, s := range r.slots {
		if s.handle == nil || s.handle == exclude {
			continue
		}
		out = append(out, s.handle)
	}
	return out
}

func (r *Registry) Contains(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(h) >= 0
}

// Generation returns the insert generation of h's slot.
func (r *Registry) Generation(h *Handle) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(h)
	if i < 0 {
		return 0, false
	}
	return r.slots[i].gen, true
}

// Len counts occupied slots, including peers that have gone away but are not
// yet evicted.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Registry) Cap() int {
	return len(r.slots)
}

// CloseAll evicts every handle. Used at shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	handles := make([]*Handle, 0, r.size)
	for i := range r.slots {
		if r.slots[i].handle != nil {
			handles = append(handles, r.slots[i].handle)
		}
		r.slots[i] = slot{}
	}
	r.size = 0
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
	return len(handles)
}

// indexOf requires r.mu.
func (r *Registry) indexOf(h *Handle) int {
	if h == nil {
		return -1
	}
	for i := range r.slots {
		if r.slots[i].handle == h {
			return i
		}
	}
	return -1
}
