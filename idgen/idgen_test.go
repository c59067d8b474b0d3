package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("UUIDv7 produced unparseable id %q: %v", id, err)
	}
	if id[14] != '7' {
		t.Fatalf("UUIDv7: version nibble = %q, want 7 (%s)", id[14], id)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not monotonic: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", Default)()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("Prefixed: %q lacks prefix", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "run_")); err != nil {
		t.Fatalf("Prefixed: inner id invalid: %v", err)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("arc_")
	if got := gen(); got != "arc_1" {
		t.Fatalf("first = %q, want arc_1", got)
	}
	if got := gen(); got != "arc_2" {
		t.Fatalf("second = %q, want arc_2", got)
	}
}
