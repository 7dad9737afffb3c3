package enums

import "fmt"

// PayoutBatchStatus summarizes the outcome of one disbursement run.
type PayoutBatchStatus string

const (
	PayoutBatchStatusCompleted PayoutBatchStatus = "completed"
	PayoutBatchStatusPartial   PayoutBatchStatus = "partial"
	PayoutBatchStatusFailed    PayoutBatchStatus = "failed"
)

var validPayoutBatchStatuses = []PayoutBatchStatus{
	PayoutBatchStatusCompleted,
	PayoutBatchStatusPartial,
	PayoutBatchStatusFailed,
}

// String implements fmt.Stringer.
func (s PayoutBatchStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PayoutBatchStatus) IsValid() bool {
	for _, candidate := range validPayoutBatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePayoutBatchStatus converts raw input into a PayoutBatchStatus.
func ParsePayoutBatchStatus(value string) (PayoutBatchStatus, error) {
	for _, candidate := range validPayoutBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout batch status %q", value)
}
