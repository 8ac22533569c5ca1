package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a >= b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	got, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected parsable id")
	}
	if !got.Equal(at) {
		t.Fatalf("time mismatch: %v vs %v", got, at)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected invalid id to fail")
	}
}
