package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/stallfront/stallfront-backend/pkg/enums"
)

// Vendor is a payee: a brand or event organizer selling on the platform.
type Vendor struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DisplayName string         `gorm:"column:display_name;not null"`
	Email       string         `gorm:"column:email"`
	Currency    enums.Currency `gorm:"column:currency;not null;default:'USD'"`

	// StripeAccountID is the payout destination. Vendors without one are
	// skipped by the batch processor, never attempted.
	StripeAccountID *string `gorm:"column:stripe_account_id"`

	// EligibleBalanceMinor is a derived projection of the unsettled
	// credit_eligible total. It is recomputed from the ledger and must never
	// be treated as the source of truth.
	EligibleBalanceMinor int64      `gorm:"column:eligible_balance_minor;not null;default:0"`
	BalanceRefreshedAt   *time.Time `gorm:"column:balance_refreshed_at"`

	Categories pq.StringArray `gorm:"column:categories;type:text[]"`
	Active     bool           `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// Payable reports whether the vendor has a payout destination on file.
func (v Vendor) Payable() bool {
	return v.StripeAccountID != nil && *v.StripeAccountID != ""
}
