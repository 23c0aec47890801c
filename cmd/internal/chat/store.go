package chat

import (
	"context"
	"fmt"
	"strings"
)

// Store persists and queries messages.
//
// Requirements:
//   - Append is atomic and assigns id + per-thread monotonic seq.
//   - ListByThread is ordered by seq ASC; unknown threads read as empty.
//   - Status updates never regress (see CanAdvance); regressive requests
//     succeed without mutation.
//   - Concurrent operations on different threads do not block each other.
type Store interface {
	// Append validates, persists and returns the stored record. Fanout must
	// not run until Append has returned success (durability before ack).
	Append(ctx context.Context, in AppendInput) (Message, error)

	// ListByThread returns all messages for a thread in creation order.
	ListByThread(ctx context.Context, waID string) ([]Message, error)

	// UpdateStatus advances one message's status. The bool reports whether
	// stored state actually changed; regressions are accepted no-ops.
	UpdateStatus(ctx context.Context, messageID string, next Status) (Message, bool, error)

	// BulkMarkRead clears unread and advances every non-terminal status in
	// the thread to read. Idempotent: a second call reports zero changes.
	BulkMarkRead(ctx context.Context, waID string) (int64, error)

	// ListConversationSummaries returns one row per distinct thread, ordered
	// by last activity descending (ties by most recent store sequence).
	ListConversationSummaries(ctx context.Context) ([]Summary, error)

	// DisplayName resolves a best-effort display name for an identity from
	// the most recent message mentioning it; "Unknown" if none does.
	DisplayName(ctx context.Context, waID string) (string, error)

	// ThreadParticipants returns the distinct identities seen on recent
	// messages of a thread. Fanout uses this to scope thread events.
	ThreadParticipants(ctx context.Context, waID string) ([]string, error)

	Close() error
}

// validateAppend normalizes and checks an AppendInput in place.
// A failed append never partially persists: this runs before any write.
func validateAppend(in *AppendInput) error {
	in.WaID = strings.TrimSpace(in.WaID)
	if err := ValidateIdent("wa_id", in.WaID); err != nil {
		return err
	}

	in.Kind = NormalizeKind(string(in.Kind))
	in.Status = NormalizeStatus(string(in.Status))

	if in.Kind == KindStatus && in.MediaURL != "" {
		return fmt.Errorf("%w: status-update cannot carry media", ErrValidation)
	}
	return nil
}
