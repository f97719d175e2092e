package ids

import (
	"testing"
	"time"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a, err := NewULID(now)
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	b, err := NewULID(now)
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}

	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("ulid length: a=%d b=%d want 26", len(a), len(b))
	}
	if a == b {
		t.Fatalf("two ulids from the same instant must differ")
	}
}

func TestMustULID(t *testing.T) {
	t.Parallel()

	id := MustULID(time.Now().UTC())
	if len(id) != 26 {
		t.Fatalf("ulid length got=%d want=26", len(id))
	}
}
