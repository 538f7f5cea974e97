package room

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/chatroom/internal/testutil/nettest"
	"github.com/danmuck/chatroom/internal/testutil/testlog"
)

// deadSet is an injectable probe that reports listed handles as gone.
type deadSet struct {
	mu   sync.Mutex
	dead map[*Handle]bool
}

func newDeadSet() *deadSet {
	return &deadSet{dead: make(map[*Handle]bool)}
}

func (d *deadSet) mark(h *Handle) {
	d.mu.Lock()
	d.dead[h] = true
	d.mu.Unlock()
}

func (d *deadSet) probe(h *Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dead[h]
}

func TestRegistryDefaults(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(0, nil)
	if reg.Cap() != DefaultCapacity {
		t.Fatalf("unexpected capacity: %d", reg.Cap())
	}
	if reg.Len() != 0 {
		t.Fatalf("unexpected len: %d", reg.Len())
	}
}

func TestRegistryInsertIsIdempotent(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(4, newDeadSet().probe)
	h := newPipeHandle(t)
	if !reg.Insert(h) || !reg.Insert(h) {
		t.Fatalf("expected both inserts to succeed")
	}
	if reg.Len() != 1 {
		t.Fatalf("duplicate insert grew registry: len=%d", reg.Len())
	}
	if got := reg.SnapshotTargets(nil); len(got) != 1 {
		t.Fatalf("expected one active slot, got %d", len(got))
	}
	if reg.Insert(nil) {
		t.Fatalf("nil handle must not be admitted")
	}
}

func TestRegistryFullRejectsWhenEveryoneAlive(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(2, newDeadSet().probe)
	a, b, c := newPipeHandle(t), newPipeHandle(t), newPipeHandle(t)
	if !reg.Insert(a) || !reg.Insert(b) {
		t.Fatalf("expected inserts under capacity to succeed")
	}
	if reg.Insert(c) {
		t.Fatalf("expected full registry to reject")
	}
	if reg.Len() != 2 || reg.Contains(c) {
		t.Fatalf("rejected handle leaked into registry")
	}
	if c.Closed() {
		t.Fatalf("registry must not close a rejected handle")
	}
}

func TestRegistryReclaimsDisconnectedSlot(t *testing.T) {
	testlog.Start(t)

	dead := newDeadSet()
	reg := NewRegistry(2, dead.probe)
	a, b, c := newPipeHandle(t), newPipeHandle(t), newPipeHandle(t)
	reg.Insert(a)
	reg.Insert(b)
	genA, _ := reg.Generation(a)

	dead.mark(a)
	if !reg.Insert(c) {
		t.Fatalf("expected reclaim of disconnected slot")
	}
	if reg.Len() != 2 {
		t.Fatalf("reclaim must not grow registry: len=%d", reg.Len())
	}
	if reg.Contains(a) || !reg.Contains(c) || !reg.Contains(b) {
		t.Fatalf("unexpected membership after reclaim")
	}
	if !a.Closed() {
		t.Fatalf("stale handle must be closed on reclaim")
	}
	genC, ok := reg.Generation(c)
	if !ok || genC <= genA {
		t.Fatalf("expected newer generation, a=%d c=%d", genA, genC)
	}
	targets := reg.SnapshotTargets(nil)
	if len(targets) != 2 || targets[0] != c || targets[1] != b {
		t.Fatalf("reclaimed handle should occupy the stale slot: %v", targets)
	}

	// The stale handle's own loop evicts it later; that must not touch c.
	if reg.Remove(a) {
		t.Fatalf("removing a reclaimed handle must be a no-op")
	}
	if !reg.Contains(c) || reg.Len() != 2 {
		t.Fatalf("stale removal affected the new occupant")
	}
}

func TestRegistryReclaimWithSocketProbe(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(1, nil)
	s1, c1 := nettest.Pair(t)
	s2, _ := nettest.Pair(t)
	first := NewHandle(s1)
	second := NewHandle(s2)

	if !reg.Insert(first) {
		t.Fatalf("first insert failed")
	}
	if reg.Insert(second) {
		t.Fatalf("expected rejection while first peer is alive")
	}
	_ = c1.Close()
	nettest.Eventually(t, 2*time.Second, func() bool { return ProbeConn(first) }, "peer close observed")

	if !reg.Insert(second) {
		t.Fatalf("expected reclaim after peer close")
	}
	if reg.Contains(first) || !reg.Contains(second) || reg.Len() != 1 {
		t.Fatalf("unexpected registry state after reclaim")
	}
}

func TestRegistryRemove(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(3, newDeadSet().probe)
	a, b := newPipeHandle(t), newPipeHandle(t)
	reg.Insert(a)
	reg.Insert(b)

	if reg.Remove(newPipeHandle(t)) {
		t.Fatalf("removing an absent handle must be a no-op")
	}
	if reg.Len() != 2 {
		t.Fatalf("absent removal changed len: %d", reg.Len())
	}
	if !reg.Remove(a) {
		t.Fatalf("expected removal")
	}
	if !a.Closed() {
		t.Fatalf("removal must close the handle")
	}
	if reg.Contains(a) || !reg.Contains(b) || reg.Len() != 1 {
		t.Fatalf("unexpected state after removal")
	}
	if _, ok := reg.Generation(a); ok {
		t.Fatalf("removed handle still has a generation")
	}
	if reg.Remove(a) {
		t.Fatalf("second removal must be a no-op")
	}
}

func TestRegistryFreedSlotIsReused(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(2, newDeadSet().probe)
	a, b, c := newPipeHandle(t), newPipeHandle(t), newPipeHandle(t)
	reg.Insert(a)
	reg.Insert(b)
	reg.Remove(a)
	if !reg.Insert(c) {
		t.Fatalf("expected insert into freed slot")
	}
	targets := reg.SnapshotTargets(nil)
	if len(targets) != 2 || targets[0] != c {
		t.Fatalf("expected first empty slot to be reused: %v", targets)
	}
}

func TestRegistrySnapshotExcludesSenderAndIsStable(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(4, newDeadSet().probe)
	a, b, c := newPipeHandle(t), newPipeHandle(t), newPipeHandle(t)
	reg.Insert(a)
	reg.Insert(b)
	reg.Insert(c)

	snap := reg.SnapshotTargets(b)
	if len(snap) != 2 || snap[0] != a || snap[1] != c {
		t.Fatalf("unexpected snapshot: %v", snap)
	}

	reg.Remove(a)
	reg.Insert(newPipeHandle(t))
	if len(snap) != 2 || snap[0] != a || snap[1] != c {
		t.Fatalf("snapshot changed after later mutation: %v", snap)
	}
}

func TestRegistryConcurrentInsertRemove(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(16, newDeadSet().probe)
	handles := make([]*Handle, 64)
	for i := range handles {
		handles[i] = newPipeHandle(t)
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Insert(h) {
				_ = reg.SnapshotTargets(h)
				reg.Remove(h)
			}
		}()
	}
	wg.Wait()
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, len=%d", reg.Len())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(3, newDeadSet().probe)
	a, b := newPipeHandle(t), newPipeHandle(t)
	reg.Insert(a)
	reg.Insert(b)
	if n := reg.CloseAll(); n != 2 {
		t.Fatalf("expected two closed, got %d", n)
	}
	if reg.Len() != 0 || !a.Closed() || !b.Closed() {
		t.Fatalf("close all left live state")
	}
}

func TestRegistryFullWithReadingPeersRejectsPromptly(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry(2, nil)
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 2; i++ {
		server, _ := nettest.Pair(t)
		if !reg.Insert(NewHandle(server)) {
			t.Fatalf("insert peer %d", i)
		}
		readers.Add(1)
		go func() {
			defer readers.Done()
			buf := make([]byte, 1)
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = server.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
				_, _ = server.Read(buf)
			}
		}()
	}
	defer func() {
		close(stop)
		readers.Wait()
	}()

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 10; i++ {
		s, _ := nettest.Pair(t)
		h := NewHandle(s)
		done := make(chan bool, 1)
		go func() { done <- reg.Insert(h) }()
		select {
		case ok := <-done:
			if ok {
				t.Fatalf("full registry admitted a newcomer over live peers")
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("insert blocked on peers' readers")
		}
		if reg.Len() != 2 {
			t.Fatalf("unexpected len: %d", reg.Len())
		}
		time.Sleep(7 * time.Millisecond)
	}
}

// closeHookConn runs onClose before closing the wrapped conn.
type closeHookConn struct {
	net.Conn
	onClose func()
}

func (c *closeHookConn) Close() error {
	c.onClose()
	return c.Conn.Close()
}

func TestRegistryReclaimClosesStaleOutsideLock(t *testing.T) {
	testlog.Start(t)

	dead := newDeadSet()
	reg := NewRegistry(1, dead.probe)

	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	lockFree := make(chan bool, 1)
	stale := NewHandle(&closeHookConn{Conn: a, onClose: func() {
		got := make(chan struct{})
		go func() {
			_ = reg.Len()
			close(got)
		}()
		select {
		case <-got:
			lockFree <- true
		case <-time.After(500 * time.Millisecond):
			lockFree <- false
		}
	}})
	if !reg.Insert(stale) {
		t.Fatalf("insert stale")
	}
	dead.mark(stale)

	if !reg.Insert(newPipeHandle(t)) {
		t.Fatalf("expected reclaim")
	}
	select {
	case ok := <-lockFree:
		if !ok {
			t.Fatalf("stale handle closed while registry lock held")
		}
	default:
		t.Fatalf("stale handle not closed on reclaim")
	}
}
