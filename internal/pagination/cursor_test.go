package pagination

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	encoded := Encode(now, "lst_abc123")

	c, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !c.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", c.CreatedAt, now)
	}
	if c.ID != "lst_abc123" {
		t.Errorf("ID = %q, want lst_abc123", c.ID)
	}
}

func TestDecodeEmpty(t *testing.T) {
	c, err := Decode("")
	if err != nil || c != nil {
		t.Fatalf("Decode(\"\") = %v, %v; want nil, nil", c, err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, in := range []string{"!!!", "bm9wZQ==", "MTIz"} {
		if _, err := Decode(in); err == nil {
			t.Errorf("Decode(%q) accepted garbage", in)
		}
	}
}

type item struct {
	id string
	at time.Time
}

func TestComputePage(t *testing.T) {
	base := time.Now().UTC()
	items := []item{
		{"a", base},
		{"b", base.Add(-time.Minute)},
		{"c", base.Add(-2 * time.Minute)},
	}

	page, next, more := ComputePage(items, 2, func(i item) (time.Time, string) {
		return i.at, i.id
	})
	if len(page) != 2 || !more {
		t.Fatalf("expected 2 items and more=true, got %d, %v", len(page), more)
	}
	c, err := Decode(next)
	if err != nil {
		t.Fatalf("next cursor invalid: %v", err)
	}
	if c.ID != "b" {
		t.Errorf("cursor points at %q, want b", c.ID)
	}

	page, next, more = ComputePage(items, 5, func(i item) (time.Time, string) {
		return i.at, i.id
	})
	if len(page) != 3 || more || next != "" {
		t.Errorf("short result should have no next page")
	}
}
