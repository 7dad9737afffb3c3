package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/metrics"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

const defaultTxEntryLimit = 500

// Matcher consumes a vendor's unmatched ledger entries when a payout settles.
// It walks credits oldest-first, splits the last one when the amount lands
// mid-entry, and sweeps due holds and refunds into the same batch so the
// signed sum of everything stamped with the batch id equals the amount paid.
//
// Settle must run inside a transaction supplied by the caller; the matcher
// never commits.
type Matcher struct {
	repo         Repository
	logg         *logger.Logger
	metrics      *metrics.PayoutMetrics
	txEntryLimit int
}

// MatcherParams wires the matcher dependencies.
type MatcherParams struct {
	Repo         Repository
	Logger       *logger.Logger
	Metrics      *metrics.PayoutMetrics
	TxEntryLimit int
}

// NewMatcher builds a settlement matcher.
func NewMatcher(params MatcherParams) (*Matcher, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TxEntryLimit <= 0 {
		params.TxEntryLimit = defaultTxEntryLimit
	}
	return &Matcher{
		repo:         params.Repo,
		logg:         params.Logger,
		metrics:      params.Metrics,
		txEntryLimit: params.TxEntryLimit,
	}, nil
}

// SettleInput describes one vendor settlement within a payout batch.
// AmountMinor is the net amount actually disbursed.
type SettleInput struct {
	VendorID    uuid.UUID
	AmountMinor int64
	Currency    enums.Currency
	BatchID     string
	Cutoff      time.Time
	PaidAt      time.Time
	CreatedBy   string
}

// SettleResult reports what a settlement consumed and created.
type SettleResult struct {
	ConsumedCreditIDs []uuid.UUID
	SweptDebitIDs     []uuid.UUID
	PayoutEntryID     uuid.UUID
	RemainderEntryID  *uuid.UUID
	RemainderMinor    int64
	Overdrawn         bool
	ShortfallMinor    int64
}

// Settle matches input.AmountMinor against the vendor's unmatched entries and
// stamps everything consumed with the batch id.
//
// The amount plus any due debits must be covered by due credits; when it is
// not, the vendor is overdrawn: every remaining credit is still consumed, the
// shortfall is reported and logged, and settlement proceeds. Overdrawn is an
// operational signal, not an error.
func (m *Matcher) Settle(ctx context.Context, tx *gorm.DB, input SettleInput) (*SettleResult, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if input.BatchID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id required")
	}
	if input.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Cutoff.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cutoff required")
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = time.Now().UTC()
	}

	repo := m.repo.WithTx(tx)
	ctx = m.logg.WithBatchID(m.logg.WithVendorID(ctx, input.VendorID.String()), input.BatchID)

	debits, err := repo.ListUnsettledDebits(ctx, input.VendorID, input.Cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due debits")
	}
	var debitTotal int64
	sweptDebitIDs := make([]uuid.UUID, 0, len(debits))
	for _, d := range debits {
		debitTotal += d.AmountMinor
		sweptDebitIDs = append(sweptDebitIDs, d.ID)
	}

	// Credits must cover the disbursed amount plus every debit netted out of
	// it, so the batch's signed total lands exactly on the amount paid.
	cover := input.AmountMinor + debitTotal

	result := &SettleResult{SweptDebitIDs: sweptDebitIDs}
	var consumed int64
	var remainder *models.LedgerEntry

	var after *pagination.Cursor
	for consumed < cover {
		credits, err := repo.ListUnsettledCredits(ctx, input.VendorID, input.Cutoff, after, m.txEntryLimit)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due credits")
		}
		if len(credits) == 0 {
			break
		}
		for i := range credits {
			entry := credits[i]
			if consumed+entry.AmountMinor <= cover {
				consumed += entry.AmountMinor
				result.ConsumedCreditIDs = append(result.ConsumedCreditIDs, entry.ID)
				if consumed == cover {
					break
				}
				continue
			}

			// Partial consumption: the original entry keeps its amount and is
			// stamped settled; the unconsumed tail becomes a fresh credit so
			// the books still add up.
			tail := entry.AmountMinor - (cover - consumed)
			consumed = cover
			result.ConsumedCreditIDs = append(result.ConsumedCreditIDs, entry.ID)
			remainder = &models.LedgerEntry{
				ID:             uuid.New(),
				VendorID:       entry.VendorID,
				AmountMinor:    tail,
				Type:           enums.LedgerEntryTypeCreditEligible,
				Source:         entry.Source,
				Currency:       entry.Currency,
				TargetPayoutAt: entry.TargetPayoutAt,
				OrderRefKind:   entry.OrderRefKind,
				OrderRefID:     entry.OrderRefID,
				Note:           fmt.Sprintf("remainder of entry %s", entry.ID),
				CreatedBy:      input.CreatedBy,
				// Keep the original timestamp so the tail holds its place in
				// the oldest-first queue.
				CreatedAt: entry.CreatedAt,
			}
			break
		}
		if consumed >= cover {
			break
		}
		last := credits[len(credits)-1]
		after = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	if consumed < cover {
		result.Overdrawn = true
		result.ShortfallMinor = cover - consumed
		m.logg.Warn(ctx, fmt.Sprintf(
			"overdrawn settlement: credits cover %d of %d minor units (shortfall %d)",
			consumed, cover, result.ShortfallMinor))
		m.metrics.IncOverdrawn()
	}

	claimed := append(append([]uuid.UUID{}, result.ConsumedCreditIDs...), sweptDebitIDs...)
	rows, err := repo.MarkSettled(ctx, claimed, input.BatchID, input.PaidAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entries settled")
	}
	if rows != int64(len(claimed)) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("settlement claimed %d of %d entries; concurrent batch suspected", rows, len(claimed)))
	}

	if remainder != nil {
		if err := repo.Create(ctx, remainder); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create remainder entry")
		}
		result.RemainderEntryID = &remainder.ID
		result.RemainderMinor = remainder.AmountMinor
	}

	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	batchID := input.BatchID
	paidAt := input.PaidAt
	payout := &models.LedgerEntry{
		ID:             uuid.New(),
		VendorID:       input.VendorID,
		AmountMinor:    input.AmountMinor,
		Type:           enums.LedgerEntryTypeDebitPayout,
		Source:         enums.LedgerSourceSettlement,
		Currency:       currency,
		TargetPayoutAt: input.Cutoff,
		PayoutBatchID:  &batchID,
		PaidAt:         &paidAt,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      input.PaidAt,
	}
	if err := repo.Create(ctx, payout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout entry")
	}
	result.PayoutEntryID = payout.ID

	return result, nil
}
