package models

import (
	"time"

	"github.com/stallfront/stallfront-backend/pkg/enums"
	"github.com/stallfront/stallfront-backend/pkg/types"
)

// PayoutBatch summarizes one disbursement run (scheduled, retried, manual, or
// backfilled). The batch id doubles as the idempotency key: replaying a run
// with the same id must not disburse again. Batches are immutable once
// written; corrections happen through new ledger entries and new batches.
type PayoutBatch struct {
	BatchID          string                  `gorm:"column:batch_id;primaryKey"`
	Status           enums.PayoutBatchStatus `gorm:"column:status;type:payout_batch_status_enum;not null"`
	CutoffAt         time.Time               `gorm:"column:cutoff_at;not null"`
	TotalVendors     int                     `gorm:"column:total_vendors;not null"`
	Successful       int                     `gorm:"column:successful;not null"`
	Failed           int                     `gorm:"column:failed;not null"`
	Skipped          int                     `gorm:"column:skipped;not null"`
	TotalAmountMinor int64                   `gorm:"column:total_amount_minor;not null"`
	Currency         enums.Currency          `gorm:"column:currency;not null"`
	TestMode         bool                    `gorm:"column:test_mode;not null"`
	DryRun           bool                    `gorm:"column:dry_run;not null"`
	Manual           bool                    `gorm:"column:manual;not null"`
	Results          types.PayoutResults     `gorm:"column:results;type:jsonb"`
	CreatedBy        string                  `gorm:"column:created_by"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}
