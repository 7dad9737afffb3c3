package enums

import "fmt"

// LedgerSource identifies which sales domain produced a ledger entry. It is
// used for reporting breakdowns only, never to derive amounts.
type LedgerSource string

const (
	LedgerSourceEvent LedgerSource = "event"
	LedgerSourceStore LedgerSource = "store"
	// LedgerSourceSettlement marks entries written by the settlement matcher
	// itself (payout debits), not by a sale.
	LedgerSourceSettlement LedgerSource = "settlement"
)

var validLedgerSources = []LedgerSource{
	LedgerSourceEvent,
	LedgerSourceStore,
	LedgerSourceSettlement,
}

// String implements fmt.Stringer.
func (s LedgerSource) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s LedgerSource) IsValid() bool {
	for _, candidate := range validLedgerSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerSource converts raw input into a LedgerSource.
func ParseLedgerSource(value string) (LedgerSource, error) {
	for _, candidate := range validLedgerSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger source %q", value)
}
