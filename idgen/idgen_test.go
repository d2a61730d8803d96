package idgen_test

import (
	"strings"
	"testing"

	"github.com/akkash/testbro-sub001/idgen"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := idgen.UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if _, err := idgen.Parse(id); err != nil {
			t.Fatalf("generated id does not parse: %v", err)
		}
	}
}

func TestUUIDv7TimeSortable(t *testing.T) {
	gen := idgen.UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if id < prev {
			t.Fatalf("ids not monotonic: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	gen := idgen.Prefixed("sess_", idgen.Default)
	id := gen()
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("got %q, want sess_ prefix", id)
	}
	if _, err := idgen.Parse(strings.TrimPrefix(id, "sess_")); err != nil {
		t.Fatalf("suffix does not parse: %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := idgen.Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}
