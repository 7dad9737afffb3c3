package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type_enum enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntryTypeCreditEligible LedgerEntryType = "credit_eligible"
	LedgerEntryTypeDebitHold      LedgerEntryType = "debit_hold"
	LedgerEntryTypeDebitPayout    LedgerEntryType = "debit_payout"
	LedgerEntryTypeDebitRefund    LedgerEntryType = "debit_refund"
	LedgerEntryTypeCreditRelease  LedgerEntryType = "credit_release"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeCreditEligible,
	LedgerEntryTypeDebitHold,
	LedgerEntryTypeDebitPayout,
	LedgerEntryTypeDebitRefund,
	LedgerEntryTypeCreditRelease,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value matches the canonical ledger entry enum.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether entries of this type add to the vendor balance.
func (t LedgerEntryType) IsCredit() bool {
	return t == LedgerEntryTypeCreditEligible || t == LedgerEntryTypeCreditRelease
}

// IsDebit reports whether entries of this type subtract from the vendor balance.
func (t LedgerEntryType) IsDebit() bool {
	return t == LedgerEntryTypeDebitHold || t == LedgerEntryTypeDebitPayout || t == LedgerEntryTypeDebitRefund
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType, rejecting
// unknown values at the store boundary.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
