package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const defaultEngineQueue = 1024

// ParticipantResolver derives the peer list for a thread by scanning its
// recent participants. chat.Store satisfies it.
type ParticipantResolver interface {
	ThreadParticipants(ctx context.Context, waID string) ([]string, error)
}

// Engine is the fanout plane: it consumes domain events from a single input
// channel and pushes them to the live connections interested in each.
//
// Guarantees:
//   - Per connection, events are delivered in the order they were published
//     (one consumer goroutine, FIFO input, FIFO per-client send buffers).
//   - Delivery is at-most-once and never blocks: a full client buffer or a
//     closing client drops the push. The store remains the catch-up path.
//   - A delivery failure is counted and logged, never propagated: the
//     triggering write already succeeded durably.
type Engine struct {
	log          *slog.Logger
	presence     *Presence
	participants ParticipantResolver
	metrics      *Metrics

	events chan Event
}

// NewEngine constructs a fanout engine. The presence tracker is an
// explicitly owned dependency, created at process start and passed in here,
// never a process-wide singleton.
func NewEngine(log *slog.Logger, presence *Presence, participants ParticipantResolver, metrics *Metrics, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = defaultEngineQueue
	}
	return &Engine{
		log:          log,
		presence:     presence,
		participants: participants,
		metrics:      metrics,
		events:       make(chan Event, queueSize),
	}
}

// Publish enqueues a domain event without blocking. Callers publish
// immediately after their store operation commits, on the same goroutine,
// so the engine sees events in commit order. Returns false when the queue
// is full (the event is dropped and counted).
func (e *Engine) Publish(ev Event) bool {
	select {
	case e.events <- ev:
		e.metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
		return true
	default:
		e.metrics.EventsDropped.Inc()
		e.log.Warn("fanout.queue.full", "kind", ev.Kind, "wa_id", ev.WaID)
		return false
	}
}

// Run consumes and dispatches events until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev Event) {
	env, ok := e.encode(ev)
	if !ok {
		return
	}

	for _, c := range e.targets(ctx, ev) {
		e.push(c, env)
	}
}

// targets resolves the connection set for an event.
func (e *Engine) targets(ctx context.Context, ev Event) []*Client {
	switch ev.Kind {
	case EventPresence:
		// Presence transitions are broadcast: every connected client keeps
		// its contact list current.
		return e.presence.Snapshot()

	case EventTyping, EventStopTyping:
		// Typing is high-frequency and ephemeral: peers of the thread only,
		// never the emitter and never a global broadcast.
		return e.threadConnections(ctx, ev.WaID, ev.Identity)

	default:
		return e.threadConnections(ctx, ev.WaID, "")
	}
}

func (e *Engine) threadConnections(ctx context.Context, waID, exclude string) []*Client {
	ids, err := e.participants.ThreadParticipants(ctx, waID)
	if err != nil {
		e.log.Warn("fanout.participants.fail", "wa_id", waID, "err", err)
		return nil
	}

	seen := make(map[*Client]struct{})
	var out []*Client
	for _, id := range ids {
		if id == exclude {
			continue
		}
		for _, c := range e.presence.Connections(id) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// push enqueues onto one connection. Non-blocking: a slow or closing
// connection can never hold up the rest of the fanout.
func (e *Engine) push(c *Client, env Envelope) {
	if c == nil {
		return
	}

	select {
	case <-c.Done():
		e.metrics.PushesDropped.Inc()
		return
	default:
	}

	select {
	case c.Send <- env:
		e.metrics.PushesDelivered.Inc()
	default:
		e.metrics.PushesDropped.Inc()
		e.log.Info("fanout.push.drop", "session_id", c.SessionID, "type", env.Type)
	}
}

func (e *Engine) encode(ev Event) (Envelope, bool) {
	now := time.Now().UTC()

	var (
		typ     string
		payload any
	)

	switch ev.Kind {
	case EventMessageNew:
		typ, payload = TypeMessageNew, ev.Message
	case EventMessageStatus:
		typ, payload = TypeMessageStatus, ev.Message
	case EventThreadRead:
		typ, payload = TypeThreadRead, ThreadReadPayload{WaID: ev.WaID, Count: ev.Count}
	case EventPresence:
		status := "offline"
		if ev.Online {
			status = "online"
		}
		typ, payload = TypePresence, PresencePayload{WaID: ev.Identity, Status: status}
	case EventTyping:
		typ, payload = TypeTyping, TypingPayload{WaID: ev.WaID, From: ev.Identity}
	case EventStopTyping:
		typ, payload = TypeStopTyping, TypingPayload{WaID: ev.WaID, From: ev.Identity}
	default:
		e.log.Warn("fanout.event.unknown", "kind", ev.Kind)
		return Envelope{}, false
	}

	b, err := json.Marshal(payload)
	if err != nil {
		e.log.Error("fanout.encode.fail", "kind", ev.Kind, "err", err)
		return Envelope{}, false
	}
	return newEnvelope(typ, b, now), true
}
