package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimitBounds(t *testing.T) {
	if got := NormalizeLimit(0); got != DefaultLimit {
		t.Fatalf("zero limit: got %d", got)
	}
	if got := NormalizeLimit(-7); got != DefaultLimit {
		t.Fatalf("negative limit: got %d", got)
	}
	if got := NormalizeLimit(MaxLimit + 50); got != MaxLimit {
		t.Fatalf("oversized limit: got %d", got)
	}
	if got := NormalizeLimit(12); got != 12 {
		t.Fatalf("in-range limit: got %d", got)
	}
	if got := LimitWithBuffer(12); got != 13 {
		t.Fatalf("buffered limit: got %d", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{
		CreatedAt: time.Date(2026, 1, 9, 17, 59, 59, 123456789, time.UTC),
		ID:        uuid.New(),
	}

	got, err := ParseCursor(EncodeCursor(want))
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestParseCursorEmptyMeansFirstPage(t *testing.T) {
	got, err := ParseCursor("  ")
	if err != nil {
		t.Fatalf("blank cursor: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil cursor, got %+v", got)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, value := range []string{
		"not base64!!",
		"bm8tc2VwYXJhdG9y",             // decodes without a separator
		"bm90LWEtdGltZXxub3QtYW4taWQ=", // bad timestamp and id
	} {
		if _, err := ParseCursor(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}
