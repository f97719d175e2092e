package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"relay/cmd/internal/messaging"
	"relay/cmd/internal/realtime"
)

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedDevTokens(t *testing.T) {
	t.Parallel()

	v := realtime.NewStaticTokenValidator()
	seedDevTokens(v, []string{
		"tok-a:alice:phone",
		"tok-b:bob",
		"malformed",
		":missing-token",
	}, discardLogger())

	ctx := context.Background()

	id, err := v.Validate(ctx, "tok-a")
	if err != nil {
		t.Fatalf("validate tok-a: %v", err)
	}
	if id.UserID != "alice" || id.DeviceID != "phone" {
		t.Fatalf("tok-a identity: %+v", id)
	}

	id, err = v.Validate(ctx, "tok-b")
	if err != nil {
		t.Fatalf("validate tok-b: %v", err)
	}
	if id.UserID != "bob" || id.DeviceID != "" {
		t.Fatalf("tok-b identity: %+v", id)
	}

	if _, err := v.Validate(ctx, "malformed"); err == nil {
		t.Fatalf("malformed entry must not register a token")
	}
}

func TestSeedDevMembers(t *testing.T) {
	t.Parallel()

	s := messaging.NewMemoryMembershipStore()
	seedDevMembers(s, []string{
		"conv-1:alice:bob",
		"conv-2:carol",
		"",
		"orphan",
	}, discardLogger())

	ctx := context.Background()

	ok, err := s.IsMember(ctx, "alice", "conv-1")
	if err != nil || !ok {
		t.Fatalf("alice in conv-1: ok=%v err=%v", ok, err)
	}
	ok, err = s.IsMember(ctx, "bob", "conv-1")
	if err != nil || !ok {
		t.Fatalf("bob in conv-1: ok=%v err=%v", ok, err)
	}
	ok, err = s.IsMember(ctx, "carol", "conv-1")
	if err != nil || ok {
		t.Fatalf("carol must not be in conv-1: ok=%v err=%v", ok, err)
	}
	ok, err = s.IsMember(ctx, "carol", "conv-2")
	if err != nil || !ok {
		t.Fatalf("carol in conv-2: ok=%v err=%v", ok, err)
	}
}
