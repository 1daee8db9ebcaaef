package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	if a == b {
		t.Fatal("duplicate ids")
	}
	u, err := uuid.Parse(a)
	if err != nil {
		t.Fatal(err)
	}
	if u.Version() != 7 {
		t.Errorf("version: got %d, want 7", u.Version())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("pg_", UUIDv7())()
	if !strings.HasPrefix(id, "pg_") || len(id) != 3+36 {
		t.Errorf("got %q", id)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("p")
	for i, want := range []string{"p1", "p2", "p3"} {
		if got := gen(); got != want {
			t.Errorf("call %d: got %q, want %q", i, got, want)
		}
	}
}
