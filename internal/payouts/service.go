package payouts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/internal/notifications"
	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/db"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/metrics"
	"github.com/stallfront/stallfront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type settler interface {
	Settle(ctx context.Context, tx *gorm.DB, input ledger.SettleInput) (*ledger.SettleResult, error)
}

type ledgerReader interface {
	SumUnsettled(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) (ledger.UnsettledTotals, error)
	SumUnsettledBySource(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) ([]ledger.SourceTotals, error)
	VendorsWithCreditsDue(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	VendorsSettledInBatch(ctx context.Context, batchID string) ([]uuid.UUID, error)
	HasEntryForBatch(ctx context.Context, batchID string) (bool, error)
}

type vendorReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Vendor, error)
}

type notifier interface {
	Send(ctx context.Context, event notifications.Event) error
}

type reminderStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReminderKey(vendorID, cutoff string) string
}

// Service runs weekly payout batches and their supporting operations.
type Service interface {
	RunPayoutBatch(ctx context.Context, input RunInput) (*models.PayoutBatch, error)
	RetryFailedPayouts(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error)
	GetBatch(ctx context.Context, batchID string) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, limit int) ([]models.PayoutBatch, error)
	UpcomingPayout(ctx context.Context, vendorID uuid.UUID) (*UpcomingPayout, error)
	SendPayoutReminders(ctx context.Context, dryRun bool) (ReminderOutcome, error)
	ReconcileManualPayout(ctx context.Context, input ReconcileInput) (*models.PayoutBatch, error)
	BackfillPayoutBatch(ctx context.Context, input BackfillInput) (*models.PayoutBatch, error)
}

// RunInput parameterizes one batch run. The zero value runs the most recent
// cutoff in real mode for every vendor with credits due.
type RunInput struct {
	Cutoff    time.Time
	DryRun    bool
	TestMode  *bool
	VendorIDs []uuid.UUID
	BatchID   string
	CreatedBy string
	manual    bool
}

// UpcomingPayout previews a vendor's next scheduled disbursement.
type UpcomingPayout struct {
	VendorID     uuid.UUID             `json:"vendor_id"`
	CutoffAt     time.Time             `json:"cutoff_at"`
	AmountMinor  int64                 `json:"amount_minor"`
	PendingMinor int64                 `json:"pending_minor"`
	Sources      []ledger.SourceTotals `json:"sources"`
	Payable      bool                  `json:"payable"`
}

// ReminderOutcome counts one reminder sweep: how many vendors had money due,
// how many notifications went out and how many failed to reach the broker.
type ReminderOutcome struct {
	TotalVendors int `json:"total_vendors"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
}

type service struct {
	db        txRunner
	repo      Repository
	ledger    ledgerReader
	matcher   settler
	vendors   vendorReader
	provider  TransferProvider
	notify    notifier
	reminders reminderStore
	metrics   *metrics.PayoutMetrics
	logg      *logger.Logger
	cfg       config.PayoutConfig
	clock     func() time.Time
}

// ServiceParams wires the payout service dependencies.
type ServiceParams struct {
	DB        txRunner
	Repo      Repository
	Ledger    ledgerReader
	Matcher   settler
	Vendors   vendorReader
	Provider  TransferProvider
	Notifier  notifier
	Reminders reminderStore
	Metrics   *metrics.PayoutMetrics
	Logger    *logger.Logger
	Config    config.PayoutConfig
	Clock     func() time.Time
}

// NewService builds the payout service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payout batch repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if params.Matcher == nil {
		return nil, fmt.Errorf("settlement matcher required")
	}
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendor reader required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("transfer provider required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Clock == nil {
		params.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:        params.DB,
		repo:      params.Repo,
		ledger:    params.Ledger,
		matcher:   params.Matcher,
		vendors:   params.Vendors,
		provider:  params.Provider,
		notify:    params.Notifier,
		reminders: params.Reminders,
		metrics:   params.Metrics,
		logg:      params.Logger,
		cfg:       params.Config,
		clock:     params.Clock,
	}, nil
}

// RunPayoutBatch settles every due vendor for a cutoff. Each vendor is
// processed independently: one failed transfer never stops the rest, and the
// ledger for a vendor only changes after that vendor's transfer went through.
// Replaying an already-recorded batch id returns the stored batch untouched.
// Dry runs report what a real run would do but leave no record behind, so
// they never occupy the cutoff's deterministic batch id.
func (s *service) RunPayoutBatch(ctx context.Context, input RunInput) (*models.PayoutBatch, error) {
	now := s.clock()
	weekday, hour := s.cfg.Anchor()

	cutoff := input.Cutoff
	if cutoff.IsZero() {
		cutoff = ledger.PreviousCutoff(now, weekday, hour)
	}
	batchID := input.BatchID
	if batchID == "" {
		batchID = ScheduledBatchID(cutoff)
	}
	ctx = s.logg.WithBatchID(ctx, batchID)

	if existing, err := s.repo.GetByID(ctx, batchID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up batch")
	} else if existing != nil {
		if !existing.DryRun {
			s.logg.Warn(ctx, "batch already recorded; returning stored result")
			return existing, nil
		}
		// A dry-run record must never satisfy a real run. Current dry runs
		// are not persisted; clear any left behind by older builds.
		s.logg.Warn(ctx, "clearing stored dry-run record before running batch")
		if delErr := s.repo.Delete(ctx, batchID); delErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "delete stale dry-run batch")
		}
	}
	if settled, err := s.ledger.HasEntryForBatch(ctx, batchID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check batch settlements")
	} else if settled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("ledger already holds settlements for %s but no batch record; refusing to run", batchID))
	}

	vendorIDs := input.VendorIDs
	if len(vendorIDs) == 0 {
		due, err := s.ledger.VendorsWithCreditsDue(ctx, cutoff)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendors with credits due")
		}
		vendorIDs = due
	}

	loaded, err := s.vendors.GetByIDs(ctx, vendorIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendors")
	}
	byID := make(map[uuid.UUID]*models.Vendor, len(loaded))
	for i := range loaded {
		byID[loaded[i].ID] = &loaded[i]
	}

	testMode := s.cfg.DefaultTestMode
	if input.TestMode != nil {
		testMode = *input.TestMode
	}

	results := s.processVendors(ctx, vendorIDs, byID, batchID, cutoff, now, input.DryRun, input.CreatedBy)

	batch := s.summarize(batchID, cutoff, now, results, testMode, input.DryRun, input.manual, input.CreatedBy)
	if !input.DryRun {
		if err := s.repo.Create(ctx, batch); err != nil {
			// Another replica recorded the same batch id between our lookup
			// and this insert.
			if db.IsUniqueViolation(err, "") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "batch recorded concurrently")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist batch")
		}
	}
	s.metrics.ObserveBatch(batch.Status.String())
	s.logg.Info(ctx, fmt.Sprintf(
		"batch %s: %d vendors, %d paid, %d failed, %d skipped, %d minor units",
		batch.Status, batch.TotalVendors, batch.Successful, batch.Failed, batch.Skipped, batch.TotalAmountMinor))
	return batch, nil
}

// processVendors fans the vendor list across a bounded worker pool and
// returns results in the input order.
func (s *service) processVendors(
	ctx context.Context,
	vendorIDs []uuid.UUID,
	byID map[uuid.UUID]*models.Vendor,
	batchID string,
	cutoff, now time.Time,
	dryRun bool,
	createdBy string,
) []types.VendorPayoutResult {
	workers := s.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	results := make([]types.VendorPayoutResult, len(vendorIDs))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				vendorID := vendorIDs[idx]
				results[idx] = s.processVendor(ctx, byID[vendorID], vendorID, batchID, cutoff, now, dryRun, createdBy)
			}
		}()
	}
	for idx := range vendorIDs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results
}

func (s *service) processVendor(
	ctx context.Context,
	vendor *models.Vendor,
	vendorID uuid.UUID,
	batchID string,
	cutoff, now time.Time,
	dryRun bool,
	createdBy string,
) (result types.VendorPayoutResult) {
	ctx = s.logg.WithVendorID(ctx, vendorID.String())
	result = types.VendorPayoutResult{VendorID: vendorID.String()}

	defer func() {
		if r := recover(); r != nil {
			s.logg.Error(ctx, "panic while processing vendor payout", fmt.Errorf("%v", r))
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if vendor == nil {
		result.Error = "vendor not found"
		s.observe(result)
		return result
	}
	result.VendorName = vendor.DisplayName

	totals, err := s.ledger.SumUnsettled(ctx, vendorID, cutoff)
	if err != nil {
		result.Error = fmt.Sprintf("sum unsettled entries: %v", err)
		s.observe(result)
		return result
	}
	eligible := totals.EligibleMinor()

	switch {
	case eligible < 0:
		s.logg.Warn(ctx, fmt.Sprintf("vendor overdrawn by %d minor units; skipping payout", -eligible))
		result.Skipped = true
		result.Error = "overdrawn"
	case eligible == 0:
		result.Skipped = true
	case eligible < s.cfg.MinTransferMinor:
		result.Skipped = true
		result.AmountMinor = eligible
		result.Error = "below minimum transfer amount"
	case !vendor.Payable():
		result.Skipped = true
		result.AmountMinor = eligible
		result.Error = "no payout destination on file"
	}
	if result.Skipped {
		s.observe(result)
		return result
	}

	result.AmountMinor = eligible
	if dryRun {
		result.Success = true
		return result
	}

	code, err := s.provider.CreateTransfer(ctx, TransferRequest{
		DestinationAccount: *vendor.StripeAccountID,
		AmountMinor:        eligible,
		Currency:           string(vendor.Currency),
		BatchID:            batchID,
		VendorName:         vendor.DisplayName,
	})
	if err != nil {
		s.logg.Error(ctx, "transfer failed", err)
		result.Error = fmt.Sprintf("transfer: %v", err)
		s.observe(result)
		s.sendEvent(ctx, notifications.Event{
			Kind:        notifications.KindPayoutFailed,
			VendorID:    vendorID,
			BatchID:     batchID,
			AmountMinor: eligible,
			Currency:    string(vendor.Currency),
			Reason:      "transfer failed",
		})
		return result
	}
	result.TransferCode = code

	var settled *ledger.SettleResult
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, settleErr := s.matcher.Settle(ctx, tx, ledger.SettleInput{
			VendorID:    vendorID,
			AmountMinor: eligible,
			Currency:    vendor.Currency,
			BatchID:     batchID,
			Cutoff:      cutoff,
			PaidAt:      now,
			CreatedBy:   createdBy,
		})
		if settleErr != nil {
			return settleErr
		}
		settled = res
		return nil
	})
	if err != nil {
		// Money moved but the ledger did not. This needs an operator.
		s.logg.Error(ctx, fmt.Sprintf("settlement failed after transfer %s; ledger out of step", code), err)
		result.Error = fmt.Sprintf("settle after transfer %s: %v", code, err)
		s.observe(result)
		return result
	}
	result.Settlement = settlementDetail(settled)

	result.Success = true
	s.observe(result)
	s.sendEvent(ctx, notifications.Event{
		Kind:        notifications.KindPayoutSent,
		VendorID:    vendorID,
		BatchID:     batchID,
		AmountMinor: eligible,
		Currency:    string(vendor.Currency),
	})
	return result
}

// settlementDetail flattens the matcher's result into the audit shape stored
// on the batch record.
func settlementDetail(res *ledger.SettleResult) *types.SettlementDetail {
	if res == nil {
		return nil
	}
	detail := &types.SettlementDetail{
		PayoutEntryID:  res.PayoutEntryID.String(),
		Overdrawn:      res.Overdrawn,
		ShortfallMinor: res.ShortfallMinor,
	}
	for _, id := range res.ConsumedCreditIDs {
		detail.ConsumedEntryIDs = append(detail.ConsumedEntryIDs, id.String())
	}
	for _, id := range res.SweptDebitIDs {
		detail.SweptDebitIDs = append(detail.SweptDebitIDs, id.String())
	}
	if res.RemainderEntryID != nil {
		detail.SplitEntryID = res.RemainderEntryID.String()
		detail.SplitRemainderMinor = res.RemainderMinor
	}
	return detail
}

func (s *service) summarize(
	batchID string,
	cutoff, now time.Time,
	results []types.VendorPayoutResult,
	testMode, dryRun, manual bool,
	createdBy string,
) *models.PayoutBatch {
	batch := &models.PayoutBatch{
		BatchID:      batchID,
		CutoffAt:     cutoff,
		TotalVendors: len(results),
		Currency:     enums.CurrencyUSD,
		TestMode:     testMode,
		DryRun:       dryRun,
		Manual:       manual,
		Results:      results,
		CreatedBy:    createdBy,
		CreatedAt:    now,
	}
	for _, r := range results {
		switch {
		case r.Skipped:
			batch.Skipped++
		case r.Success:
			batch.Successful++
			batch.TotalAmountMinor += r.AmountMinor
		default:
			batch.Failed++
		}
	}
	switch {
	case batch.Failed == 0:
		batch.Status = enums.PayoutBatchStatusCompleted
	case batch.Successful > 0:
		batch.Status = enums.PayoutBatchStatusPartial
	default:
		batch.Status = enums.PayoutBatchStatusFailed
	}
	return batch
}

// RetryFailedPayouts re-runs only the vendors that failed in a previous
// batch, under a fresh batch id derived from the original. A dry-run retry
// previews the rerun without transferring, settling, or recording anything.
func (s *service) RetryFailedPayouts(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error) {
	if originalBatchID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id required")
	}
	original, err := s.repo.GetByID(ctx, originalBatchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up batch")
	}
	if original == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found")
	}
	if original.DryRun {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot retry a dry run")
	}

	var failedVendors []uuid.UUID
	for _, r := range original.Results {
		if r.Success || r.Skipped {
			continue
		}
		id, parseErr := uuid.Parse(r.VendorID)
		if parseErr != nil {
			continue
		}
		failedVendors = append(failedVendors, id)
	}
	if len(failedVendors) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "batch has no failed vendors to retry")
	}

	retryID := ""
	for attempt := 1; attempt <= 20; attempt++ {
		candidate := RetryBatchID(originalBatchID, attempt)
		existing, lookupErr := s.repo.GetByID(ctx, candidate)
		if lookupErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lookupErr, "look up retry batch")
		}
		if existing == nil {
			retryID = candidate
			break
		}
	}
	if retryID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "retry attempts exhausted")
	}

	testMode := original.TestMode
	return s.RunPayoutBatch(ctx, RunInput{
		Cutoff:    original.CutoffAt,
		DryRun:    dryRun,
		TestMode:  &testMode,
		VendorIDs: failedVendors,
		BatchID:   retryID,
		CreatedBy: createdBy,
	})
}

func (s *service) GetBatch(ctx context.Context, batchID string) (*models.PayoutBatch, error) {
	if batchID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id required")
	}
	batch, err := s.repo.GetByID(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get batch")
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found")
	}
	return batch, nil
}

func (s *service) ListBatches(ctx context.Context, limit int) ([]models.PayoutBatch, error) {
	batches, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batches")
	}
	return batches, nil
}

// UpcomingPayout previews what the next cutoff would disburse for a vendor.
func (s *service) UpcomingPayout(ctx context.Context, vendorID uuid.UUID) (*UpcomingPayout, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	vendor, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get vendor")
	}
	if vendor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}

	now := s.clock()
	weekday, hour := s.cfg.Anchor()
	cutoff := ledger.NextCutoff(now, weekday, hour)

	totals, err := s.ledger.SumUnsettled(ctx, vendorID, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum unsettled entries")
	}
	sources, err := s.ledger.SumUnsettledBySource(ctx, vendorID, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum unsettled entries by source")
	}
	eligible := totals.EligibleMinor()
	if eligible < 0 {
		eligible = 0
	}
	return &UpcomingPayout{
		VendorID:     vendorID,
		CutoffAt:     cutoff,
		AmountMinor:  eligible,
		PendingMinor: totals.CreditFutureMinor,
		Sources:      sources,
		Payable:      vendor.Payable() && eligible >= s.cfg.MinTransferMinor,
	}, nil
}

// SendPayoutReminders notifies vendors with a disbursement coming up at the
// next cutoff. Reminders deduplicate per vendor per cutoff through the
// shared store, so overlapping workers send each at most once. The outcome
// counts eligible vendors, deliveries and broker failures separately. A dry
// run reports the vendors that would be reminded without claiming dedupe
// keys or publishing anything.
func (s *service) SendPayoutReminders(ctx context.Context, dryRun bool) (ReminderOutcome, error) {
	var outcome ReminderOutcome
	if s.reminders == nil || s.notify == nil {
		return outcome, pkgerrors.New(pkgerrors.CodeStateConflict, "reminders not configured")
	}

	now := s.clock()
	weekday, hour := s.cfg.Anchor()
	cutoff := ledger.NextCutoff(now, weekday, hour)
	if cutoff.Sub(now) > s.cfg.ReminderLead {
		return outcome, nil
	}

	vendorIDs, err := s.ledger.VendorsWithCreditsDue(ctx, cutoff)
	if err != nil {
		return outcome, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendors with credits due")
	}

	cutoffKey := cutoff.Format("20060102")
	for _, vendorID := range vendorIDs {
		totals, sumErr := s.ledger.SumUnsettled(ctx, vendorID, cutoff)
		if sumErr != nil {
			s.logg.Error(s.logg.WithVendorID(ctx, vendorID.String()), "sum unsettled for reminder", sumErr)
			outcome.Failed++
			continue
		}
		eligible := totals.EligibleMinor()
		if eligible <= 0 {
			continue
		}
		outcome.TotalVendors++
		if dryRun {
			continue
		}

		key := s.reminders.ReminderKey(vendorID.String(), cutoffKey)
		fresh, setErr := s.reminders.SetNX(ctx, key, now.Format(time.RFC3339), 2*s.cfg.ReminderLead)
		if setErr != nil {
			s.logg.Error(s.logg.WithVendorID(ctx, vendorID.String()), "reminder dedupe", setErr)
			outcome.Failed++
			continue
		}
		if !fresh {
			continue
		}

		if sendErr := s.sendEvent(ctx, notifications.Event{
			Kind:        notifications.KindPayoutReminder,
			VendorID:    vendorID,
			AmountMinor: eligible,
			CutoffAt:    cutoff,
		}); sendErr != nil {
			outcome.Failed++
			continue
		}
		outcome.Sent++
	}
	return outcome, nil
}

func (s *service) observe(result types.VendorPayoutResult) {
	outcome := "failed"
	switch {
	case result.Skipped:
		outcome = "skipped"
	case result.Success:
		outcome = "success"
	}
	s.metrics.ObserveVendor(outcome, result.AmountMinor)
}

func (s *service) sendEvent(ctx context.Context, event notifications.Event) error {
	if s.notify == nil {
		return nil
	}
	return s.notify.Send(ctx, event)
}
