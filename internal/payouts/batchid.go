package payouts

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"
)

// Batch ids double as idempotency keys, so scheduled runs must derive the
// same id for the same cutoff while manual operations stay unique.
const (
	batchPrefix       = "POB"
	manualBatchPrefix = "POB-MAN"
)

var batchIDRe = regexp.MustCompile(`^POB(-MAN)?-\d{8,14}-[0-9a-z]{1,8}(-R\d+)?$`)

// ScheduledBatchID derives the deterministic id for the weekly run at the
// given cutoff. Replaying the same cutoff always yields the same id.
func ScheduledBatchID(cutoff time.Time) string {
	c := cutoff.UTC()
	return fmt.Sprintf("%s-%s-%04x", batchPrefix, c.Format("20060102"), uint16(c.Unix()))
}

// ManualBatchID builds an id for an operator-initiated reconciliation at the
// given moment. The random suffix keeps two reconciliations inside the same
// second from colliding.
func ManualBatchID(at time.Time) string {
	t := at.UTC()
	return fmt.Sprintf("%s-%s-%04x", manualBatchPrefix, t.Format("20060102150405"), uint16(rand.Uint32()))
}

// RetryBatchID derives the id for the nth retry of a previous batch.
func RetryBatchID(originalID string, attempt int) string {
	return fmt.Sprintf("%s-R%d", originalID, attempt)
}

// ValidBatchID reports whether the id matches a shape this system ever
// produces. Used to keep backfill imports honest.
func ValidBatchID(id string) bool {
	return batchIDRe.MatchString(id)
}
