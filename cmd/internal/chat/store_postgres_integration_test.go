package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when COURIER_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_AppendAndList(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	waID := "it-thread-" + randHex(6)

	m1, err := store.Append(ctx, AppendInput{WaID: waID, From: waID, To: "support", Body: "hello"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if m1.Seq != 1 || m1.Status != StatusSent || !m1.Unread {
		t.Fatalf("unexpected first message: %+v", m1)
	}

	m2, err := store.Append(ctx, AppendInput{WaID: waID, From: "support", To: waID, Body: "hi there"})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if m2.Seq != 2 {
		t.Fatalf("expected seq=2 got=%d", m2.Seq)
	}
	if m2.StoreSeq <= m1.StoreSeq {
		t.Fatalf("store_seq must be globally increasing: %d then %d", m1.StoreSeq, m2.StoreSeq)
	}

	msgs, err := store.ListByThread(ctx, waID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatalf("unexpected listing: %+v", msgs)
	}
}

func TestPostgresStore_StatusLatticeAndMarkRead(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	waID := "it-status-" + randHex(6)
	m, err := store.Append(ctx, AppendInput{WaID: waID, From: waID, To: "support", Body: "x"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, changed, err := store.UpdateStatus(ctx, m.ID, StatusDelivered)
	if err != nil || !changed || got.Status != StatusDelivered {
		t.Fatalf("sent->delivered: changed=%v status=%q err=%v", changed, got.Status, err)
	}

	// Repeat ack: accepted no-op.
	got, changed, err = store.UpdateStatus(ctx, m.ID, StatusDelivered)
	if err != nil || changed || got.Status != StatusDelivered {
		t.Fatalf("repeat ack: changed=%v status=%q err=%v", changed, got.Status, err)
	}

	n, err := store.BulkMarkRead(ctx, waID)
	if err != nil || n != 1 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}

	// Late delivery receipt after read: regression is a stored no-op.
	got, changed, err = store.UpdateStatus(ctx, m.ID, StatusDelivered)
	if err != nil || changed || got.Status != StatusRead {
		t.Fatalf("late ack: changed=%v status=%q err=%v", changed, got.Status, err)
	}

	n, err = store.BulkMarkRead(ctx, waID)
	if err != nil || n != 0 {
		t.Fatalf("second mark read: n=%d err=%v", n, err)
	}

	if _, _, err := store.UpdateStatus(ctx, "missing-id", StatusDelivered); err != ErrNotFound {
		t.Fatalf("missing message: want ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeqNoGaps(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	waID := "it-concurrency-" + randHex(6)

	const n = 32
	var wg sync.WaitGroup
	errCh := make(chan error, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, AppendInput{
				WaID: waID, From: "a", To: "b", Body: fmt.Sprintf("m%d", i),
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append: %v", err)
	}

	msgs, err := store.ListByThread(ctx, waID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d rows, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at %d: got %d", i, m.Seq)
		}
	}
}

func TestPostgresStore_Summaries(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := time.Now().UTC().Truncate(time.Second)
	t1 := "it-sum1-" + randHex(6)
	t2 := "it-sum2-" + randHex(6)

	if _, err := store.Append(ctx, AppendInput{WaID: t1, From: "a", To: "b", Body: "old", Now: base}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.Append(ctx, AppendInput{WaID: t2, From: "c", To: "d", Body: "mid", Now: base.Add(time.Minute)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.Append(ctx, AppendInput{WaID: t2, From: "c", To: "d", Body: "new", Now: base.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	sums, err := store.ListConversationSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].WaID != t2 || sums[0].LastBody != "new" || sums[0].Count != 2 {
		t.Fatalf("unexpected first summary: %+v", sums[0])
	}
	if sums[1].WaID != t1 || sums[1].Count != 1 {
		t.Fatalf("unexpected second summary: %+v", sums[1])
	}
}

// ---- test helpers ----

func mustNewPGStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("COURIER_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: COURIER_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse COURIER_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "courier_it_" + randHex(8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	messages := pgIdent(schema, "messages")
	cursors := pgIdent(schema, "thread_cursors")

	// Minimal schema required by PostgresStore.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id           TEXT PRIMARY KEY,
  wa_id        TEXT NOT NULL,
  seq          BIGINT NOT NULL,
  store_seq    BIGSERIAL NOT NULL,
  sender       TEXT NOT NULL DEFAULT '',
  recipient    TEXT NOT NULL DEFAULT '',
  body         TEXT NOT NULL DEFAULT '',
  kind         TEXT NOT NULL,
  media_url    TEXT NOT NULL DEFAULT '',
  media_type   TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  unread       BOOLEAN NOT NULL DEFAULT true,
  is_group     BOOLEAN NOT NULL DEFAULT false,
  contact_name TEXT NOT NULL DEFAULT '',
  origin       JSONB,
  created_at   TIMESTAMPTZ NOT NULL,

  CONSTRAINT uq_messages_thread_seq UNIQUE (wa_id, seq)
);

CREATE TABLE IF NOT EXISTS %s (
  wa_id      TEXT PRIMARY KEY,
  next_seq   BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_thread_seq
  ON %s (wa_id, seq ASC);

CREATE INDEX IF NOT EXISTS idx_messages_store_seq
  ON %s (store_seq DESC);
`, messages, cursors, messages, messages)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
