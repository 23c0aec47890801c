package realtime

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresence_SingleTransitionAcrossHandles(t *testing.T) {
	p := NewPresence(testLogger())

	c1 := NewClient("s1", 8)
	c2 := NewClient("s2", 8)

	if on, _ := p.Connect("alice", c1); !on {
		t.Fatalf("first handle must report online transition")
	}
	if on, _ := p.Connect("alice", c2); on {
		t.Fatalf("second handle must not report a transition")
	}
	if !p.Online("alice") {
		t.Fatalf("alice should be online")
	}
	if got := len(p.Connections("alice")); got != 2 {
		t.Fatalf("expected 2 handles, got %d", got)
	}

	id, off := p.Disconnect(c1)
	if id != "alice" || off {
		t.Fatalf("first disconnect: id=%q off=%v", id, off)
	}
	if !p.Online("alice") {
		t.Fatalf("alice must stay online with one handle left")
	}

	id, off = p.Disconnect(c2)
	if id != "alice" || !off {
		t.Fatalf("last disconnect: id=%q off=%v", id, off)
	}
	if p.Online("alice") {
		t.Fatalf("alice should be offline")
	}
}

func TestPresence_UnregisteredDisconnectIsNoop(t *testing.T) {
	p := NewPresence(testLogger())

	id, off := p.Disconnect(NewClient("ghost", 1))
	if id != "" || off {
		t.Fatalf("unregistered disconnect must be a no-op, got id=%q off=%v", id, off)
	}
}

func TestPresence_ConnectIsIdempotentPerHandle(t *testing.T) {
	p := NewPresence(testLogger())
	c := NewClient("s1", 8)

	if on, _ := p.Connect("bob", c); !on {
		t.Fatalf("expected online transition")
	}
	if on, displaced := p.Connect("bob", c); on || displaced != "" {
		t.Fatalf("re-registering the same handle must not transition, got on=%v displaced=%q", on, displaced)
	}
	if got := len(p.Connections("bob")); got != 1 {
		t.Fatalf("expected 1 handle, got %d", got)
	}
}

func TestPresence_RebindMovesHandle(t *testing.T) {
	p := NewPresence(testLogger())
	c := NewClient("s1", 8)

	p.Connect("old", c)
	if on, _ := p.Connect("new", c); !on {
		t.Fatalf("rebinding to a fresh identity must transition online")
	}
	if p.Online("old") {
		t.Fatalf("old identity must be offline after rebind")
	}
	if !p.Online("new") {
		t.Fatalf("new identity must be online after rebind")
	}
}

func TestPresence_RebindReportsDisplacedOffline(t *testing.T) {
	p := NewPresence(testLogger())
	c := NewClient("s1", 8)

	p.Connect("old", c)
	on, displaced := p.Connect("new", c)
	if !on {
		t.Fatalf("rebind must report the new identity's online transition")
	}
	if displaced != "old" {
		t.Fatalf("rebind took old's last handle, want displaced=%q got %q", "old", displaced)
	}
	if _, ok := p.LastChanged("old"); !ok {
		t.Fatalf("displaced offline transition must be timestamped")
	}
}

func TestPresence_RebindKeepsBusyIdentityOnline(t *testing.T) {
	p := NewPresence(testLogger())
	c1 := NewClient("s1", 8)
	c2 := NewClient("s2", 8)

	p.Connect("old", c1)
	p.Connect("old", c2)

	// c2 switches identity, but c1 still holds "old" online.
	if _, displaced := p.Connect("new", c2); displaced != "" {
		t.Fatalf("old still has a handle, no offline should be reported, got %q", displaced)
	}
	if !p.Online("old") {
		t.Fatalf("old must stay online through c1")
	}
}

func TestPresence_SnapshotAndLastChanged(t *testing.T) {
	p := NewPresence(testLogger())

	if _, ok := p.LastChanged("alice"); ok {
		t.Fatalf("no transition recorded yet")
	}

	p.Connect("alice", NewClient("s1", 1))
	p.Connect("bob", NewClient("s2", 1))

	if got := len(p.Snapshot()); got != 2 {
		t.Fatalf("expected 2 live handles, got %d", got)
	}
	if _, ok := p.LastChanged("alice"); !ok {
		t.Fatalf("online transition must be timestamped")
	}
}
