package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/pkg/enums"
)

// LedgerEntry is one signed monetary movement on a vendor wallet. Entries are
// append-mostly: after creation only the settlement metadata
// (payout_batch_id, paid_at, note) may change, never the amount.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID       uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index:idx_ledger_vendor_created"`
	AmountMinor    int64                 `gorm:"column:amount_minor;not null"`
	Type           enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type_enum;not null"`
	Source         enums.LedgerSource    `gorm:"column:source;type:ledger_source_enum;not null"`
	Currency       enums.Currency        `gorm:"column:currency;not null"`
	TargetPayoutAt time.Time             `gorm:"column:target_payout_at;not null"`
	PayoutBatchID  *string               `gorm:"column:payout_batch_id;index"`
	PaidAt         *time.Time            `gorm:"column:paid_at"`
	OrderRefKind   string                `gorm:"column:order_ref_kind"`
	OrderRefID     string                `gorm:"column:order_ref_id;index"`
	Note           string                `gorm:"column:note"`
	CreatedBy      string                `gorm:"column:created_by"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_ledger_vendor_created"`
}

// Settled reports whether the entry has been consumed by a payout batch.
func (e LedgerEntry) Settled() bool {
	return e.PayoutBatchID != nil
}
