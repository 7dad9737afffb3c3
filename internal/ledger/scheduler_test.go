package ledger

import (
	"testing"
	"time"
)

func TestNextCutoff(t *testing.T) {
	// Friday 2026-01-09 18:00 UTC is a cutoff.
	cutoff := time.Date(2026, 1, 9, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "midweek rolls forward to friday",
			after: time.Date(2026, 1, 6, 9, 30, 0, 0, time.UTC),
			want:  cutoff,
		},
		{
			name:  "friday before the hour stays on the same day",
			after: time.Date(2026, 1, 9, 17, 59, 59, 0, time.UTC),
			want:  cutoff,
		},
		{
			name:  "exactly on the cutoff moves to next week",
			after: cutoff,
			want:  cutoff.AddDate(0, 0, 7),
		},
		{
			name:  "just past the cutoff moves to next week",
			after: cutoff.Add(time.Second),
			want:  cutoff.AddDate(0, 0, 7),
		},
		{
			name:  "non-utc input is normalized",
			after: time.Date(2026, 1, 9, 12, 0, 0, 0, time.FixedZone("CST", -6*3600)),
			want:  cutoff.AddDate(0, 0, 7),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NextCutoff(tc.after, time.Friday, 18)
			if !got.Equal(tc.want) {
				t.Fatalf("NextCutoff(%v) = %v, want %v", tc.after, got, tc.want)
			}
			if got.Location() != time.UTC {
				t.Fatalf("cutoff not in UTC: %v", got.Location())
			}
		})
	}
}

func TestNextCutoffIsDeterministic(t *testing.T) {
	after := time.Date(2026, 3, 14, 4, 17, 33, 912, time.UTC)
	first := NextCutoff(after, time.Friday, 18)
	for i := 0; i < 10; i++ {
		if got := NextCutoff(after, time.Friday, 18); !got.Equal(first) {
			t.Fatalf("cutoff changed between calls: %v vs %v", got, first)
		}
	}
	if !first.After(after) {
		t.Fatalf("cutoff %v not strictly after %v", first, after)
	}
	if first.Sub(after) > 7*24*time.Hour {
		t.Fatalf("cutoff %v more than a week out from %v", first, after)
	}
}

func TestPreviousCutoff(t *testing.T) {
	cutoff := time.Date(2026, 1, 9, 18, 0, 0, 0, time.UTC)

	if got := PreviousCutoff(cutoff, time.Friday, 18); !got.Equal(cutoff) {
		t.Fatalf("exactly on cutoff should return itself, got %v", got)
	}
	if got := PreviousCutoff(cutoff.Add(time.Hour), time.Friday, 18); !got.Equal(cutoff) {
		t.Fatalf("just after cutoff should return it, got %v", got)
	}
	if got := PreviousCutoff(cutoff.Add(-time.Hour), time.Friday, 18); !got.Equal(cutoff.AddDate(0, 0, -7)) {
		t.Fatalf("just before cutoff should return previous week, got %v", got)
	}
}

func TestTargetPayoutAt(t *testing.T) {
	cutoff := time.Date(2026, 1, 9, 18, 0, 0, 0, time.UTC)
	hold := 72 * time.Hour

	// Entry on Monday: hold expires Thursday, payable that Friday.
	entryAt := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	if got := TargetPayoutAt(entryAt, hold, time.Friday, 18); !got.Equal(cutoff) {
		t.Fatalf("monday entry: got %v, want %v", got, cutoff)
	}

	// Entry on Thursday evening: hold crosses the Friday cutoff, payable the
	// following week.
	entryAt = time.Date(2026, 1, 8, 20, 0, 0, 0, time.UTC)
	if got := TargetPayoutAt(entryAt, hold, time.Friday, 18); !got.Equal(cutoff.AddDate(0, 0, 7)) {
		t.Fatalf("thursday entry: got %v, want %v", got, cutoff.AddDate(0, 0, 7))
	}

	// Hold expiring exactly on a cutoff is payable on that cutoff.
	entryAt = cutoff.Add(-hold)
	if got := TargetPayoutAt(entryAt, hold, time.Friday, 18); !got.Equal(cutoff) {
		t.Fatalf("exact expiry: got %v, want %v", got, cutoff)
	}
}
