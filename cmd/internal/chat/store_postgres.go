package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Expected schema (managed outside this binary):
//
//	CREATE TABLE courier.messages (
//	    id           text PRIMARY KEY,
//	    wa_id        text NOT NULL,
//	    seq          bigint NOT NULL,
//	    store_seq    bigserial NOT NULL,
//	    sender       text NOT NULL DEFAULT '',
//	    recipient    text NOT NULL DEFAULT '',
//	    body         text NOT NULL DEFAULT '',
//	    kind         text NOT NULL,
//	    media_url    text NOT NULL DEFAULT '',
//	    media_type   text NOT NULL DEFAULT '',
//	    status       text NOT NULL,
//	    unread       boolean NOT NULL DEFAULT true,
//	    is_group     boolean NOT NULL DEFAULT false,
//	    contact_name text NOT NULL DEFAULT '',
//	    origin       jsonb,
//	    created_at   timestamptz NOT NULL,
//	    UNIQUE (wa_id, seq)
//	);
//	CREATE TABLE courier.thread_cursors (
//	    wa_id      text PRIMARY KEY,
//	    next_seq   bigint NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool; the caller closes it.
//
// Concurrency model:
//   - Appends take a per-thread transactional advisory lock, so ordering is
//     strictly monotonic per thread while unrelated threads proceed freely.
//   - Status updates are single guarded UPDATEs; no torn records.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const messageColumns = `id, wa_id, sender, recipient, body, kind, media_url, media_type,
	seq, store_seq, status, unread, is_group, contact_name, origin, created_at`

// Append persists a message with per-thread monotonic sequence allocation.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")
	cursors := pgIdent(s.schema, "thread_cursors")

	// Serialize writes per thread so seq allocation is strictly monotonic
	// without blocking unrelated threads.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.WaID); err != nil {
		return Message{}, storageErr("advisory lock", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (wa_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (wa_id) DO NOTHING`,
		in.WaID,
	); err != nil {
		return Message{}, storageErr("ensure cursor", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE wa_id = $1
		RETURNING (next_seq - 1)`,
		in.WaID,
	).Scan(&seq); err != nil {
		return Message{}, storageErr("allocate seq", err)
	}

	var storeSeq int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (
		     id, wa_id, sender, recipient, body, kind, media_url, media_type,
		     seq, status, unread, is_group, contact_name, origin, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, $12, $13, $14)
		RETURNING store_seq`,
		id, in.WaID, in.From, in.To, in.Body, string(in.Kind), in.MediaURL, in.MediaType,
		seq, string(in.Status), in.IsGroup, in.ContactName, in.Origin, now,
	).Scan(&storeSeq); err != nil {
		return Message{}, storageErr("insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, storageErr("commit", err)
	}

	return Message{
		ID:          id,
		WaID:        in.WaID,
		From:        in.From,
		To:          in.To,
		Body:        in.Body,
		Kind:        in.Kind,
		MediaURL:    in.MediaURL,
		MediaType:   in.MediaType,
		Seq:         seq,
		Status:      in.Status,
		Unread:      true,
		IsGroup:     in.IsGroup,
		ContactName: in.ContactName,
		Origin:      in.Origin,
		CreatedAt:   now,
		StoreSeq:    storeSeq,
	}, nil
}

// ListByThread returns the thread's messages ordered by seq ASC.
func (s *PostgresStore) ListByThread(ctx context.Context, waID string) ([]Message, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE wa_id = $1
		  ORDER BY seq ASC`,
		waID,
	)
	if err != nil {
		return nil, storageErr("list thread", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 64)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("scan message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list thread", err)
	}
	return out, nil
}

// UpdateStatus advances one message's status with a guarded UPDATE. The
// guard encodes the lattice, so regressions never write and simply read
// back the current row as a no-op.
func (s *PostgresStore) UpdateStatus(ctx context.Context, messageID string, next Status) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	messages := pgIdent(s.schema, "messages")

	var allowed []string
	switch next {
	case StatusDelivered:
		allowed = []string{string(StatusSent)}
	case StatusRead:
		allowed = []string{string(StatusSent), string(StatusDelivered)}
	}

	if len(allowed) > 0 {
		row := s.pool.QueryRow(ctx,
			`UPDATE `+messages+`
			    SET status = $2
			  WHERE id = $1 AND status = ANY($3)
			RETURNING `+messageColumns,
			messageID, string(next), allowed,
		)
		m, err := scanMessage(row)
		if err == nil {
			return m, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, storageErr("update status", err)
		}
	}

	// Not an advance (or the guard matched nothing): report current state.
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1`,
		messageID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, ErrNotFound
	}
	if err != nil {
		return Message{}, false, storageErr("read message", err)
	}
	return m, false, nil
}

// BulkMarkRead clears unread across a thread in one statement.
func (s *PostgresStore) BulkMarkRead(ctx context.Context, waID string) (int64, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET unread = false,
		        status = CASE WHEN status = 'unknown' THEN status ELSE 'read' END
		  WHERE wa_id = $1 AND unread = true`,
		waID,
	)
	if err != nil {
		return 0, storageErr("bulk mark read", err)
	}
	return tag.RowsAffected(), nil
}

// ListConversationSummaries is a grouped reduction over the message set.
func (s *PostgresStore) ListConversationSummaries(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT m.wa_id, m.body, m.created_at, c.cnt
		   FROM `+messages+` m
		   JOIN (
		         SELECT wa_id, MAX(store_seq) AS last_store_seq, COUNT(*) AS cnt
		           FROM `+messages+`
		          GROUP BY wa_id
		        ) c
		     ON m.wa_id = c.wa_id AND m.store_seq = c.last_store_seq
		  ORDER BY m.created_at DESC, m.store_seq DESC`,
	)
	if err != nil {
		return nil, storageErr("summaries", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, 32)
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.WaID, &sum.LastBody, &sum.LastAt, &sum.Count); err != nil {
			return nil, storageErr("scan summary", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("summaries", err)
	}
	return out, nil
}

// DisplayName resolves a best-effort display name for an identity.
func (s *PostgresStore) DisplayName(ctx context.Context, waID string) (string, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return "", err
	}

	messages := pgIdent(s.schema, "messages")
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT contact_name
		   FROM `+messages+`
		  WHERE (wa_id = $1 OR sender = $1 OR recipient = $1)
		    AND contact_name <> ''
		  ORDER BY store_seq DESC
		  LIMIT 1`,
		waID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "Unknown", nil
	}
	if err != nil {
		return "", storageErr("display name", err)
	}
	return name, nil
}

// ThreadParticipants returns distinct identities from recent thread messages.
func (s *PostgresStore) ThreadParticipants(ctx context.Context, waID string) ([]string, error) {
	if err := ValidateIdent("wa_id", waID); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT sender, recipient
		   FROM `+messages+`
		  WHERE wa_id = $1
		  ORDER BY seq DESC
		  LIMIT $2`,
		waID, participantScanWindow,
	)
	if err != nil {
		return nil, storageErr("participants", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{waID: {}}
	out := []string{waID}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, storageErr("scan participant", err)
		}
		for _, id := range []string{from, to} {
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
	if err := rows.Err(); err != nil {
		return nil, storageErr("participants", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m            Message
		kind, status string
	)
	err := row.Scan(
		&m.ID, &m.WaID, &m.From, &m.To, &m.Body, &kind, &m.MediaURL, &m.MediaType,
		&m.Seq, &m.StoreSeq, &status, &m.Unread, &m.IsGroup, &m.ContactName,
		&m.Origin, &m.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	m.Kind = Kind(kind)
	m.Status = Status(status)
	return m, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func isValidPGIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
