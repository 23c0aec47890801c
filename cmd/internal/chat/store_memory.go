package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

const participantScanWindow = 50

// MemoryStore is the in-process Store used when no database is configured.
//
// Concurrency model:
//   - s.mu guards only the thread map and the id index.
//   - Each thread carries its own mutex, so appends to unrelated threads
//     never contend (no head-of-line blocking across conversations).
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*memThread
	byID     map[string]*memThread
	storeSeq int64
}

type memThread struct {
	waID string

	mu   sync.Mutex
	seq  int64
	msgs []Message
	idx  map[string]int // message id -> position in msgs
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*memThread),
		byID:    make(map[string]*memThread),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Append persists a message atomically and assigns id + seq.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := validateAppend(&in); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	t := s.threads[in.WaID]
	if t == nil {
		t = &memThread{waID: in.WaID, idx: make(map[string]int)}
		s.threads[in.WaID] = t
	}
	s.byID[id] = t
	s.storeSeq++
	storeSeq := s.storeSeq
	s.mu.Unlock()

	msg := Message{
		ID:          id,
		WaID:        in.WaID,
		From:        in.From,
		To:          in.To,
		Body:        in.Body,
		Kind:        in.Kind,
		MediaURL:    in.MediaURL,
		MediaType:   in.MediaType,
		Status:      in.Status,
		Unread:      true,
		IsGroup:     in.IsGroup,
		ContactName: in.ContactName,
		Origin:      in.Origin,
		CreatedAt:   now,
		StoreSeq:    storeSeq,
	}

	t.mu.Lock()
	t.seq++
	msg.Seq = t.seq
	t.idx[id] = len(t.msgs)
	t.msgs = append(t.msgs, msg)
	t.mu.Unlock()

	return msg, nil
}

// ListByThread returns a copy of the thread's messages in seq order.
func (s *MemoryStore) ListByThread(ctx context.Context, waID string) ([]Message, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := s.thread(waID)
	if t == nil {
		return []Message{}, nil
	}

	t.mu.Lock()
	out := append([]Message(nil), t.msgs...)
	t.mu.Unlock()
	return out, nil
}

// UpdateStatus advances a single message's status; regressions are no-ops.
func (s *MemoryStore) UpdateStatus(ctx context.Context, messageID string, next Status) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	s.mu.RLock()
	t := s.byID[messageID]
	s.mu.RUnlock()
	if t == nil {
		return Message{}, false, ErrNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.idx[messageID]
	if !ok {
		return Message{}, false, ErrNotFound
	}

	m := &t.msgs[pos]
	if !CanAdvance(m.Status, next) {
		return *m, false, nil
	}
	m.Status = next
	return *m, true, nil
}

// BulkMarkRead clears unread across the thread. The unknown sink keeps its
// status but still loses the unread flag; the count reports cleared rows.
func (s *MemoryStore) BulkMarkRead(ctx context.Context, waID string) (int64, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t := s.thread(waID)
	if t == nil {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for i := range t.msgs {
		m := &t.msgs[i]
		if !m.Unread {
			continue
		}
		m.Unread = false
		if m.Status != StatusUnknown {
			m.Status = StatusRead
		}
		n++
	}
	return n, nil
}

// ListConversationSummaries computes the conversation list projection.
// Each thread is locked only long enough to read its tail and count, so a
// summary never observes a partially written message.
func (s *MemoryStore) ListConversationSummaries(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	threads := make([]*memThread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	s.mu.RUnlock()

	type row struct {
		sum  Summary
		tail int64
	}

	rows := make([]row, 0, len(threads))
	for _, t := range threads {
		t.mu.Lock()
		if len(t.msgs) == 0 {
			t.mu.Unlock()
			continue
		}
		last := t.msgs[len(t.msgs)-1]
		rows = append(rows, row{
			sum: Summary{
				WaID:     t.waID,
				LastBody: last.Body,
				LastAt:   last.CreatedAt,
				Count:    int64(len(t.msgs)),
			},
			tail: last.StoreSeq,
		})
		t.mu.Unlock()
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].sum.LastAt.Equal(rows[j].sum.LastAt) {
			return rows[i].sum.LastAt.After(rows[j].sum.LastAt)
		}
		return rows[i].tail > rows[j].tail
	})

	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.sum)
	}
	return out, nil
}

// DisplayName scans for the most recent message mentioning the identity
// that carries a contact name. Degraded fallback, not an identity directory.
func (s *MemoryStore) DisplayName(ctx context.Context, waID string) (string, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	threads := make([]*memThread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	s.mu.RUnlock()

	var (
		best    string
		bestSeq int64
	)
	for _, t := range threads {
		t.mu.Lock()
		for i := len(t.msgs) - 1; i >= 0; i-- {
			m := t.msgs[i]
			if m.ContactName == "" {
				continue
			}
			if m.WaID != waID && m.From != waID && m.To != waID {
				continue
			}
			if m.StoreSeq > bestSeq {
				best, bestSeq = m.ContactName, m.StoreSeq
			}
			break
		}
		t.mu.Unlock()
	}

	if best == "" {
		return "Unknown", nil
	}
	return best, nil
}

// ThreadParticipants returns distinct identities from the thread's recent
// messages (newest first), always including the thread id itself.
func (s *MemoryStore) ThreadParticipants(ctx context.Context, waID string) ([]string, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{waID: {}}
	out := []string{waID}

	t := s.thread(waID)
	if t == nil {
		return out, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	scanned := 0
	for i := len(t.msgs) - 1; i >= 0 && scanned < participantScanWindow; i-- {
		scanned++
		for _, id := range []string{t.msgs[i].From, t.msgs[i].To} {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) thread(waID string) *memThread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[waID]
}
