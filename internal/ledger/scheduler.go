package ledger

import (
	"time"
)

// Cutoff arithmetic for the weekly payout schedule. A cutoff is a whole hour
// on a fixed weekday, always in UTC; everything downstream (entry eligibility,
// batch windows, reminders) is derived from these two functions, so they must
// stay deterministic and timezone-free.

// NextCutoff returns the first cutoff strictly after the given instant.
func NextCutoff(after time.Time, weekday time.Weekday, hourUTC int) time.Time {
	t := after.UTC()
	candidate := time.Date(t.Year(), t.Month(), t.Day(), hourUTC, 0, 0, 0, time.UTC)
	days := (int(weekday) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, days)
	if !candidate.After(t) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// PreviousCutoff returns the most recent cutoff at or before the given
// instant.
func PreviousCutoff(at time.Time, weekday time.Weekday, hourUTC int) time.Time {
	return NextCutoff(at, weekday, hourUTC).AddDate(0, 0, -7)
}

// TargetPayoutAt returns the cutoff an entry recorded at entryAt becomes
// payable on: the first cutoff at or after the hold period elapses. An entry
// whose hold expires exactly on a cutoff is payable on that cutoff, not the
// following week's.
func TargetPayoutAt(entryAt time.Time, hold time.Duration, weekday time.Weekday, hourUTC int) time.Time {
	eligible := entryAt.UTC().Add(hold)
	next := NextCutoff(eligible, weekday, hourUTC)
	if prev := next.AddDate(0, 0, -7); prev.Equal(eligible) {
		return prev
	}
	return next
}
