package messaging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chatv1 "relay/shared/contracts/chat/v1"
)

// Integration tests are enabled when RELAY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresMessageStore_SaveAndDedupe(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store, err := NewPostgresMessageStore(pool, WithMessageSchema(schema))
	if err != nil {
		t.Fatalf("new message store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: uuid.NewString(),
		SenderID:       uuid.NewString(),
		ContentType:    chatv1.ContentText,
		Content:        "hello",
	}
	now := time.Now().UTC()

	first, err := store.Save(ctx, msg, now)
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	if !first.ServerTimestamp.Equal(now) {
		t.Fatalf("server_ts got=%v want=%v", first.ServerTimestamp, now)
	}

	if _, err := store.Save(ctx, msg, now.Add(time.Second)); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("save duplicate err=%v want ErrDuplicateMessage", err)
	}

	got, err := store.FindByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Content != "hello" || got.ContentType != chatv1.ContentText {
		t.Fatalf("stored mismatch: %+v", got)
	}
	if got.ReplyToID != "" || got.MediaURL != "" {
		t.Fatalf("optional fields must stay empty: %+v", got)
	}

	if _, err := store.FindByID(ctx, uuid.NewString()); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("find missing err=%v want ErrMessageNotFound", err)
	}
}

func TestPostgresStatusStore_Transitions(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	messages, err := NewPostgresMessageStore(pool, WithMessageSchema(schema))
	if err != nil {
		t.Fatalf("new message store: %v", err)
	}
	statuses, err := NewPostgresStatusStore(pool, WithStatusSchema(schema))
	if err != nil {
		t.Fatalf("new status store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conv := uuid.NewString()
	sender := uuid.NewString()
	bob := uuid.NewString()
	carol := uuid.NewString()
	now := time.Now().UTC()

	msgID := uuid.NewString()
	if _, err := messages.Save(ctx, Message{
		ID: msgID, ConversationID: conv, SenderID: sender,
		ContentType: chatv1.ContentText, Content: "m1",
	}, now); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := statuses.Init(ctx, msgID, []string{bob, carol}, now); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Replayed init must not duplicate or error.
	if err := statuses.Init(ctx, msgID, []string{bob, carol}, now.Add(time.Second)); err != nil {
		t.Fatalf("re-init: %v", err)
	}

	changed, err := statuses.Update(ctx, msgID, bob, chatv1.StatusDelivered, now)
	if err != nil || !changed {
		t.Fatalf("SENT->DELIVERED changed=%v err=%v", changed, err)
	}

	// Regression must not fire.
	changed, err = statuses.Update(ctx, msgID, bob, chatv1.StatusSent, now)
	if err != nil {
		t.Fatalf("DELIVERED->SENT err=%v", err)
	}
	if changed {
		t.Fatalf("DELIVERED->SENT must not change the row")
	}

	st, err := statuses.Get(ctx, msgID, bob)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st != chatv1.StatusDelivered {
		t.Fatalf("status got=%q want=DELIVERED", st)
	}

	if _, err := statuses.Get(ctx, msgID, uuid.NewString()); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("get unknown err=%v want ErrMessageNotFound", err)
	}
}

func TestPostgresStatusStore_MarkConversationRead(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	messages, err := NewPostgresMessageStore(pool, WithMessageSchema(schema))
	if err != nil {
		t.Fatalf("new message store: %v", err)
	}
	statuses, err := NewPostgresStatusStore(pool, WithStatusSchema(schema))
	if err != nil {
		t.Fatalf("new status store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conv := uuid.NewString()
	sender := uuid.NewString()
	reader := uuid.NewString()
	other := uuid.NewString()
	now := time.Now().UTC()

	var msgIDs []string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		msgIDs = append(msgIDs, id)
		if _, err := messages.Save(ctx, Message{
			ID: id, ConversationID: conv, SenderID: sender,
			ContentType: chatv1.ContentText, Content: fmt.Sprintf("m%d", i),
		}, now); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if err := statuses.Init(ctx, id, []string{reader, other}, now); err != nil {
			t.Fatalf("init %d: %v", i, err)
		}
	}

	n, err := statuses.MarkConversationRead(ctx, conv, reader, now)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("changed got=%d want=3", n)
	}

	for _, id := range msgIDs {
		st, err := statuses.Get(ctx, id, reader)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if st != chatv1.StatusRead {
			t.Fatalf("%s status got=%q want=READ", id, st)
		}
	}

	// The other member's rows stay SENT.
	st, err := statuses.Get(ctx, msgIDs[0], other)
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if st != chatv1.StatusSent {
		t.Fatalf("other status got=%q want=SENT", st)
	}

	// Idempotent.
	n, err = statuses.MarkConversationRead(ctx, conv, reader, now.Add(time.Second))
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second pass changed=%d want=0", n)
	}
}

func TestPostgresMembershipStore(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	members, err := NewPostgresMembershipStore(pool, WithMembershipSchema(schema))
	if err != nil {
		t.Fatalf("new membership store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conv := uuid.NewString()
	alice := uuid.NewString()
	bob := uuid.NewString()

	tbl := pgIdent(schema, "conversation_members")
	for _, uid := range []string{alice, bob} {
		if _, err := pool.Exec(ctx,
			`INSERT INTO `+tbl+` (conversation_id, user_id) VALUES ($1, $2)`,
			conv, uid,
		); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}

	ok, err := members.IsMember(ctx, alice, conv)
	if err != nil || !ok {
		t.Fatalf("IsMember(alice)=%v err=%v", ok, err)
	}
	ok, err = members.IsMember(ctx, uuid.NewString(), conv)
	if err != nil || ok {
		t.Fatalf("IsMember(stranger)=%v err=%v", ok, err)
	}

	rids, err := members.RecipientIDs(ctx, conv, alice)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(rids) != 1 || rids[0] != bob {
		t.Fatalf("recipients got=%v want=[%s]", rids, bob)
	}
}

// ---- test helpers ----

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RELAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RELAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse RELAY_DATABASE_URL: %v", err)
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

	schema := "relay_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

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
	statuses := pgIdent(schema, "message_status")
	membersTbl := pgIdent(schema, "conversation_members")

	// Minimal schema required by the Postgres stores.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id              UUID PRIMARY KEY,
  conversation_id UUID NOT NULL,
  sender_id       UUID NOT NULL,
  content_type    TEXT NOT NULL,
  content         TEXT NOT NULL,
  reply_to_id     UUID,
  media_url       TEXT,
  thumbnail_url   TEXT,
  client_ts       TIMESTAMPTZ,
  server_ts       TIMESTAMPTZ NOT NULL,
  edited_at       TIMESTAMPTZ,
  deleted         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS %s (
  message_id UUID NOT NULL,
  user_id    UUID NOT NULL,
  status     TEXT NOT NULL CHECK (status IN ('SENT', 'DELIVERED', 'READ')),
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id UUID NOT NULL,
  user_id         UUID NOT NULL,
  PRIMARY KEY (conversation_id, user_id)
);
`, messages, statuses, membersTbl)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}
