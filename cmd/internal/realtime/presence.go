package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Presence maintains the live identity -> connection-set mapping.
//
// It is purely in memory, rebuilt empty on restart, and advisory only:
// message durability never depends on it. Connect/Disconnect report whether
// an online/offline transition happened so the caller can translate exactly
// one transition into a domain event, however many handles an identity has.
type Presence struct {
	log *slog.Logger

	mu          sync.RWMutex
	byIdentity  map[string]map[*Client]struct{}
	byClient    map[*Client]string
	lastChanged map[string]time.Time
}

// NewPresence constructs an empty presence tracker.
func NewPresence(log *slog.Logger) *Presence {
	return &Presence{
		log:         log,
		byIdentity:  make(map[string]map[*Client]struct{}),
		byClient:    make(map[*Client]string),
		lastChanged: make(map[string]time.Time),
	}
}

// Connect registers a handle for an identity. wentOnline is true only when
// this is the identity's first active handle (the online transition).
// A handle re-registering under a new identity leaves the old one; when
// that was the old identity's last handle, displaced names it so the
// caller can publish its offline transition.
func (p *Presence) Connect(identity string, c *Client) (wentOnline bool, displaced string) {
	if identity == "" || c == nil {
		return false, ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byClient[c]; ok {
		if prev == identity {
			return false, ""
		}
		if p.removeLocked(c, prev) {
			displaced = prev
			p.lastChanged[prev] = time.Now().UTC()
			p.log.Info("presence.offline", "wa_id", prev, "session_id", c.SessionID)
		}
	}

	set := p.byIdentity[identity]
	wentOnline = len(set) == 0
	if set == nil {
		set = make(map[*Client]struct{})
		p.byIdentity[identity] = set
	}
	set[c] = struct{}{}
	p.byClient[c] = identity

	if wentOnline {
		p.lastChanged[identity] = time.Now().UTC()
		p.log.Info("presence.online", "wa_id", identity, "session_id", c.SessionID)
	}
	return wentOnline, displaced
}

// Disconnect removes a handle from whichever identity owns it. Returns the
// identity and true when this was its last handle (the offline transition).
// A handle that was never registered is a no-op: connections can close
// before or during registration.
func (p *Presence) Disconnect(c *Client) (string, bool) {
	if c == nil {
		return "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	identity, ok := p.byClient[c]
	if !ok {
		return "", false
	}

	wentOffline := p.removeLocked(c, identity)
	if wentOffline {
		p.lastChanged[identity] = time.Now().UTC()
		p.log.Info("presence.offline", "wa_id", identity, "session_id", c.SessionID)
	}
	return identity, wentOffline
}

func (p *Presence) removeLocked(c *Client, identity string) bool {
	delete(p.byClient, c)
	set := p.byIdentity[identity]
	delete(set, c)
	if len(set) == 0 {
		delete(p.byIdentity, identity)
		return true
	}
	return false
}

// Connections returns a snapshot of the identity's live handles.
func (p *Presence) Connections(identity string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.byIdentity[identity]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Snapshot returns all live handles across every identity.
func (p *Presence) Snapshot() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Client, 0, len(p.byClient))
	for c := range p.byClient {
		out = append(out, c)
	}
	return out
}

// Online reports whether an identity currently has any live handle.
func (p *Presence) Online(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byIdentity[identity]) > 0
}

// LastChanged returns when the identity last transitioned online/offline.
func (p *Presence) LastChanged(identity string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.lastChanged[identity]
	return t, ok
}
