package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewIDIsVersion7(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	second, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected unique IDs, got %s twice", first)
	}
	parsed, err := goUUID.Parse(first)
	if err != nil {
		t.Fatalf("id not a valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if second < first {
		t.Fatalf("expected time-ordered IDs, got %s before %s", second, first)
	}
}
