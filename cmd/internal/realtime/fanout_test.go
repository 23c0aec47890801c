package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"courier/cmd/internal/chat"
)

type staticResolver map[string][]string

func (r staticResolver) ThreadParticipants(_ context.Context, waID string) ([]string, error) {
	return r[waID], nil
}

func newTestEngine(participants ParticipantResolver) (*Engine, *Presence) {
	p := NewPresence(testLogger())
	m := NewMetrics(prometheus.NewRegistry())
	return NewEngine(testLogger(), p, participants, m, 16), p
}

func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestEngine_MessageEventReachesThreadPeers(t *testing.T) {
	resolver := staticResolver{"1234": {"1234", "support"}}
	e, p := newTestEngine(resolver)

	customer := NewClient("s-customer", 8)
	agent := NewClient("s-agent", 8)
	bystander := NewClient("s-bystander", 8)
	p.Connect("1234", customer)
	p.Connect("support", agent)
	p.Connect("elsewhere", bystander)

	msg := &chat.Message{ID: "m1", WaID: "1234", Body: "hi", Status: chat.StatusSent}
	e.dispatch(context.Background(), Event{Kind: EventMessageNew, WaID: "1234", Message: msg})

	for _, c := range []*Client{customer, agent} {
		got := drain(c)
		if len(got) != 1 || got[0].Type != TypeMessageNew {
			t.Fatalf("%s: expected one message.new, got %v", c.SessionID, got)
		}
		var m chat.Message
		if err := json.Unmarshal(got[0].Payload, &m); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if m.ID != "m1" || m.Body != "hi" {
			t.Fatalf("unexpected message payload: %+v", m)
		}
	}

	if got := drain(bystander); len(got) != 0 {
		t.Fatalf("bystander must not receive thread events, got %v", got)
	}
}

func TestEngine_PerConnectionOrderPreserved(t *testing.T) {
	resolver := staticResolver{"t": {"t"}}
	e, p := newTestEngine(resolver)

	c := NewClient("s1", 16)
	p.Connect("t", c)

	for i := 0; i < 3; i++ {
		msg := &chat.Message{ID: string(rune('a' + i)), WaID: "t", Seq: int64(i + 1)}
		e.dispatch(context.Background(), Event{Kind: EventMessageNew, WaID: "t", Message: msg})
	}
	e.dispatch(context.Background(), Event{Kind: EventThreadRead, WaID: "t", Count: 3})

	got := drain(c)
	if len(got) != 4 {
		t.Fatalf("expected 4 envelopes, got %d", len(got))
	}
	for i := 0; i < 3; i++ {
		var m chat.Message
		if err := json.Unmarshal(got[i].Payload, &m); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if m.Seq != int64(i+1) {
			t.Fatalf("envelope %d out of order: seq=%d", i, m.Seq)
		}
	}
	if got[3].Type != TypeThreadRead {
		t.Fatalf("expected thread.read last, got %s", got[3].Type)
	}
}

func TestEngine_TypingExcludesEmitter(t *testing.T) {
	resolver := staticResolver{"t": {"t", "alice", "bob"}}
	e, p := newTestEngine(resolver)

	alice := NewClient("s-alice", 8)
	bob := NewClient("s-bob", 8)
	p.Connect("alice", alice)
	p.Connect("bob", bob)

	e.dispatch(context.Background(), Event{Kind: EventTyping, WaID: "t", Identity: "alice"})

	if got := drain(alice); len(got) != 0 {
		t.Fatalf("emitter must not receive its own typing event, got %v", got)
	}
	got := drain(bob)
	if len(got) != 1 || got[0].Type != TypeTyping {
		t.Fatalf("peer expected one typing event, got %v", got)
	}
	var p2 TypingPayload
	if err := json.Unmarshal(got[0].Payload, &p2); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p2.WaID != "t" || p2.From != "alice" {
		t.Fatalf("unexpected typing payload: %+v", p2)
	}
}

func TestEngine_PresenceBroadcastsToAll(t *testing.T) {
	e, p := newTestEngine(staticResolver{})

	c1 := NewClient("s1", 8)
	c2 := NewClient("s2", 8)
	p.Connect("alice", c1)
	p.Connect("bob", c2)

	e.dispatch(context.Background(), Event{Kind: EventPresence, Identity: "alice", Online: true})

	for _, c := range []*Client{c1, c2} {
		got := drain(c)
		if len(got) != 1 || got[0].Type != TypePresence {
			t.Fatalf("%s: expected presence, got %v", c.SessionID, got)
		}
		var pp PresencePayload
		if err := json.Unmarshal(got[0].Payload, &pp); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if pp.WaID != "alice" || pp.Status != "online" {
			t.Fatalf("unexpected presence payload: %+v", pp)
		}
	}
}

func TestEngine_SlowClientDropsNotBlocks(t *testing.T) {
	resolver := staticResolver{"t": {"t"}}
	e, p := newTestEngine(resolver)

	slow := NewClient("s-slow", 1)
	p.Connect("t", slow)

	for i := 0; i < 5; i++ {
		e.dispatch(context.Background(), Event{Kind: EventThreadRead, WaID: "t", Count: 1})
	}

	// Buffer size one: exactly one delivery, the rest dropped silently.
	if got := drain(slow); len(got) != 1 {
		t.Fatalf("expected exactly 1 buffered envelope, got %d", len(got))
	}
}

func TestEngine_ClosedClientSkipped(t *testing.T) {
	resolver := staticResolver{"t": {"t"}}
	e, p := newTestEngine(resolver)

	c := NewClient("s1", 8)
	p.Connect("t", c)
	c.Close()

	e.dispatch(context.Background(), Event{Kind: EventThreadRead, WaID: "t", Count: 1})

	if got := drain(c); len(got) != 0 {
		t.Fatalf("closed client must not receive pushes, got %v", got)
	}
}

func TestEngine_PublishNonBlockingWhenFull(t *testing.T) {
	p := NewPresence(testLogger())
	m := NewMetrics(prometheus.NewRegistry())
	e := NewEngine(testLogger(), p, staticResolver{}, m, 1)

	if !e.Publish(Event{Kind: EventThreadRead, WaID: "t", Count: 1}) {
		t.Fatalf("first publish must fit")
	}
	if e.Publish(Event{Kind: EventThreadRead, WaID: "t", Count: 1}) {
		t.Fatalf("second publish must drop, not block")
	}
}
