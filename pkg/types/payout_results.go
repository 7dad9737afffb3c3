package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// VendorPayoutResult captures one vendor's outcome inside a payout batch.
// VendorName is a denormalized snapshot taken at run time.
type VendorPayoutResult struct {
	VendorID     string            `json:"vendor_id"`
	VendorName   string            `json:"vendor_name"`
	Success      bool              `json:"success"`
	Skipped      bool              `json:"skipped,omitempty"`
	AmountMinor  int64             `json:"amount_minor"`
	TransferCode string            `json:"transfer_code,omitempty"`
	Error        string            `json:"error,omitempty"`
	Settlement   *SettlementDetail `json:"settlement,omitempty"`
}

// SettlementDetail is the entry-level audit trail of one vendor settlement:
// which ledger entries the matcher consumed, what it wrote, and whether an
// entry had to be split to land on the paid amount.
type SettlementDetail struct {
	ConsumedEntryIDs    []string `json:"consumed_entry_ids,omitempty"`
	SweptDebitIDs       []string `json:"swept_debit_ids,omitempty"`
	PayoutEntryID       string   `json:"payout_entry_id,omitempty"`
	SplitEntryID        string   `json:"split_entry_id,omitempty"`
	SplitRemainderMinor int64    `json:"split_remainder_minor,omitempty"`
	Overdrawn           bool     `json:"overdrawn,omitempty"`
	ShortfallMinor      int64    `json:"shortfall_minor,omitempty"`
}

// PayoutResults is the per-vendor result list persisted as JSONB on a batch.
type PayoutResults []VendorPayoutResult

// Value marshals the results into JSON for Postgres.
func (r PayoutResults) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Scan decodes JSONB into the result list.
func (r *PayoutResults) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("payout results: unsupported scan type %T", value)
	}

	result := make(PayoutResults, 0)
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*r = result
	return nil
}
