package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/types"
)

// ReconcileInput records a disbursement that already happened outside the
// scheduler (wire transfer, support action) so the ledger catches up.
type ReconcileInput struct {
	VendorID     uuid.UUID
	AmountMinor  int64
	TransferCode string
	PaidAt       time.Time
	Note         string
	CreatedBy    string
}

// BackfillVendor is one vendor line inside a historical batch import.
type BackfillVendor struct {
	VendorID     uuid.UUID
	AmountMinor  int64
	TransferCode string
}

// BackfillInput imports a payout batch from before this system existed.
type BackfillInput struct {
	BatchID          string
	CutoffAt         time.Time
	PaidAt           time.Time
	Vendors          []BackfillVendor
	TestMode         bool
	ConfirmOverwrite bool
	CreatedBy        string
}

// ReconcileManualPayout settles the ledger against a payment made out of
// band. The amount is taken as fact: if the vendor's credits do not cover
// it, settlement proceeds overdrawn with a warning, exactly like the
// scheduled path.
func (s *service) ReconcileManualPayout(ctx context.Context, input ReconcileInput) (*models.PayoutBatch, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if input.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.TransferCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer code required")
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = s.clock()
	}

	vendor, err := s.vendors.GetByID(ctx, input.VendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get vendor")
	}
	if vendor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}

	now := s.clock()
	weekday, hour := s.cfg.Anchor()
	batchID := ManualBatchID(now)
	// A manual payment covers everything accrued toward the cutoff the
	// payment fell under.
	cutoff := ledger.NextCutoff(input.PaidAt, weekday, hour)
	ctx = s.logg.WithBatchID(ctx, batchID)

	result := types.VendorPayoutResult{
		VendorID:     input.VendorID.String(),
		VendorName:   vendor.DisplayName,
		Success:      true,
		AmountMinor:  input.AmountMinor,
		TransferCode: input.TransferCode,
	}
	batch := &models.PayoutBatch{
		BatchID:          batchID,
		Status:           enums.PayoutBatchStatusCompleted,
		CutoffAt:         cutoff,
		TotalVendors:     1,
		Successful:       1,
		TotalAmountMinor: input.AmountMinor,
		Currency:         vendor.Currency,
		TestMode:         false,
		Manual:           true,
		Results:          types.PayoutResults{result},
		CreatedBy:        input.CreatedBy,
		CreatedAt:        now,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		settled, settleErr := s.matcher.Settle(ctx, tx, ledger.SettleInput{
			VendorID:    input.VendorID,
			AmountMinor: input.AmountMinor,
			Currency:    vendor.Currency,
			BatchID:     batchID,
			Cutoff:      cutoff,
			PaidAt:      input.PaidAt,
			CreatedBy:   input.CreatedBy,
		})
		if settleErr != nil {
			return settleErr
		}
		batch.Results[0].Settlement = settlementDetail(settled)
		return s.repo.WithTx(tx).Create(ctx, batch)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile manual payout")
	}

	s.logg.Info(ctx, fmt.Sprintf("manual payout of %d minor units reconciled for %s", input.AmountMinor, vendor.DisplayName))
	return batch, nil
}

// BackfillPayoutBatch imports a historical batch under an explicit id.
// Touching an id that already exists requires ConfirmOverwrite and replaces
// the stored record; ledger entries already settled under the id are never
// unwound, and vendors they belong to are not settled a second time.
func (s *service) BackfillPayoutBatch(ctx context.Context, input BackfillInput) (*models.PayoutBatch, error) {
	if !ValidBatchID(input.BatchID) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("malformed batch id %q", input.BatchID))
	}
	if input.CutoffAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cutoff required")
	}
	if len(input.Vendors) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one vendor required")
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = input.CutoffAt
	}
	ctx = s.logg.WithBatchID(ctx, input.BatchID)

	existing, err := s.repo.GetByID(ctx, input.BatchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up batch")
	}
	hasEntries, err := s.ledger.HasEntryForBatch(ctx, input.BatchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check batch settlements")
	}
	settledVendors := map[uuid.UUID]bool{}
	if existing != nil || hasEntries {
		if !input.ConfirmOverwrite {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("batch %s already recorded; overwrite requires confirmation", input.BatchID))
		}
		s.logg.Warn(ctx, "OVERWRITING previously recorded batch during backfill")
		if existing != nil {
			if delErr := s.repo.Delete(ctx, input.BatchID); delErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "delete batch before overwrite")
			}
		}
		// An overwrite rewrites the batch record only. Vendors whose ledgers
		// already carry settlements under this id must not settle again: the
		// matcher would consume a fresh set of credits and write a second
		// payout debit.
		if hasEntries {
			ids, listErr := s.ledger.VendorsSettledInBatch(ctx, input.BatchID)
			if listErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, listErr, "list vendors settled in batch")
			}
			for _, id := range ids {
				settledVendors[id] = true
			}
		}
	}

	results := make(types.PayoutResults, 0, len(input.Vendors))
	for _, line := range input.Vendors {
		result := types.VendorPayoutResult{
			VendorID:     line.VendorID.String(),
			AmountMinor:  line.AmountMinor,
			TransferCode: line.TransferCode,
		}
		if line.VendorID == uuid.Nil || line.AmountMinor <= 0 {
			result.Error = "invalid vendor line"
			results = append(results, result)
			continue
		}

		vendor, vendorErr := s.vendors.GetByID(ctx, line.VendorID)
		if vendorErr != nil {
			result.Error = fmt.Sprintf("get vendor: %v", vendorErr)
			results = append(results, result)
			continue
		}
		if vendor == nil {
			result.Error = "vendor not found"
			results = append(results, result)
			continue
		}
		result.VendorName = vendor.DisplayName

		if settledVendors[line.VendorID] {
			result.Success = true
			results = append(results, result)
			continue
		}

		settleErr := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			settled, innerErr := s.matcher.Settle(ctx, tx, ledger.SettleInput{
				VendorID:    line.VendorID,
				AmountMinor: line.AmountMinor,
				Currency:    vendor.Currency,
				BatchID:     input.BatchID,
				Cutoff:      input.CutoffAt,
				PaidAt:      input.PaidAt,
				CreatedBy:   input.CreatedBy,
			})
			if innerErr != nil {
				return innerErr
			}
			result.Settlement = settlementDetail(settled)
			return nil
		})
		if settleErr != nil {
			s.logg.Error(s.logg.WithVendorID(ctx, line.VendorID.String()), "backfill settlement failed", settleErr)
			result.Error = fmt.Sprintf("settle: %v", settleErr)
			results = append(results, result)
			continue
		}
		result.Success = true
		results = append(results, result)
	}

	now := s.clock()
	batch := s.summarize(input.BatchID, input.CutoffAt, now, results, input.TestMode, false, true, input.CreatedBy)
	if err := s.repo.Create(ctx, batch); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist backfilled batch")
	}
	s.logg.Info(ctx, fmt.Sprintf("backfilled batch with %d vendor lines (%d ok, %d failed)",
		batch.TotalVendors, batch.Successful, batch.Failed))
	return batch, nil
}
