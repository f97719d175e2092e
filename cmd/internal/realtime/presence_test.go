package realtime

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPresence(t *testing.T) {
	t.Parallel()

	p := NewMemoryPresence()
	ctx := context.Background()

	online, err := p.IsOnline(ctx, "alice")
	if err != nil || online {
		t.Fatalf("fresh store: online=%v err=%v", online, err)
	}

	if err := p.SetOnline(ctx, "alice"); err != nil {
		t.Fatalf("set online: %v", err)
	}
	online, err = p.IsOnline(ctx, "alice")
	if err != nil || !online {
		t.Fatalf("after SetOnline: online=%v err=%v", online, err)
	}

	seen := time.Now().UTC()
	if err := p.SetOffline(ctx, "alice", seen); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	online, err = p.IsOnline(ctx, "alice")
	if err != nil || online {
		t.Fatalf("after SetOffline: online=%v err=%v", online, err)
	}

	got, ok, err := p.LastSeen(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("last seen: ok=%v err=%v", ok, err)
	}
	if !got.Equal(seen) {
		t.Fatalf("last seen got=%v want=%v", got, seen)
	}

	if _, ok, err := p.LastSeen(ctx, "ghost"); err != nil || ok {
		t.Fatalf("ghost last seen: ok=%v err=%v", ok, err)
	}
}
