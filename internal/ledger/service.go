package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

// Service records wallet movements and answers balance questions. Settlement
// itself lives in the Matcher; the service only ever appends.
type Service interface {
	RecordCredit(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	RecordHold(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	ReleaseHold(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	RecordRefund(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error)
	Breakdown(ctx context.Context, vendorID uuid.UUID, at time.Time) (*VendorBreakdown, error)
	Entries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*EntriesPage, error)
	EntriesForBatch(ctx context.Context, batchID string) ([]models.LedgerEntry, error)
	NextCutoffAfter(at time.Time) time.Time
}

// RecordEntryInput captures the immutable data a new ledger entry requires.
type RecordEntryInput struct {
	VendorID     uuid.UUID          `json:"vendor_id"`
	AmountMinor  int64              `json:"amount_minor"`
	Source       enums.LedgerSource `json:"source"`
	Currency     enums.Currency     `json:"currency"`
	OrderRefKind string             `json:"order_ref_kind"`
	OrderRefID   string             `json:"order_ref_id"`
	Note         string             `json:"note"`
	CreatedBy    string             `json:"created_by"`
}

// VendorBreakdown is a point-in-time view of a vendor wallet, computed from
// the ledger on every call.
type VendorBreakdown struct {
	VendorID      uuid.UUID      `json:"vendor_id"`
	EligibleMinor int64          `json:"eligible_minor"`
	PendingMinor  int64          `json:"pending_minor"`
	DebitDueMinor int64          `json:"debit_due_minor"`
	Sources       []SourceTotals `json:"sources"`
	Cutoff        time.Time      `json:"cutoff"`
	NextCutoff    time.Time      `json:"next_cutoff"`
}

// EntriesPage is one page of a vendor's ledger history, newest first.
type EntriesPage struct {
	Items  []models.LedgerEntry `json:"items"`
	Cursor string               `json:"cursor,omitempty"`
}

type service struct {
	repo  Repository
	cfg   config.PayoutConfig
	logg  *logger.Logger
	clock func() time.Time
}

// ServiceParams wires the ledger service dependencies.
type ServiceParams struct {
	Repo   Repository
	Config config.PayoutConfig
	Logger *logger.Logger
	Clock  func() time.Time
}

// NewService builds the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Clock == nil {
		params.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:  params.Repo,
		cfg:   params.Config,
		logg:  params.Logger,
		clock: params.Clock,
	}, nil
}

func (s *service) NextCutoffAfter(at time.Time) time.Time {
	weekday, hour := s.cfg.Anchor()
	return NextCutoff(at, weekday, hour)
}

// RecordCredit appends a credit_eligible entry. The entry becomes payable on
// the first cutoff after the configured hold period. Credits carrying an
// order reference are deduplicated: replaying the same order is a no-op that
// returns nil.
func (s *service) RecordCredit(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	if input.OrderRefID != "" {
		exists, err := s.repo.HasEntryForOrderRef(ctx, input.VendorID, input.OrderRefID, enums.LedgerEntryTypeCreditEligible)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order reference")
		}
		if exists {
			ctx = s.logg.WithVendorID(ctx, input.VendorID.String())
			s.logg.Warn(ctx, fmt.Sprintf("duplicate credit for order ref %s ignored", input.OrderRefID))
			return nil, nil
		}
	}

	now := s.clock()
	weekday, hour := s.cfg.Anchor()
	entry := s.newEntry(input, enums.LedgerEntryTypeCreditEligible, now,
		TargetPayoutAt(now, s.cfg.HoldPeriod, weekday, hour))
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit entry")
	}
	return entry, nil
}

// RecordHold appends a debit_hold, parking part of the balance out of the
// next payout (disputes, manual review). Holds are due immediately so the
// very next settlement nets them.
func (s *service) RecordHold(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	return s.recordImmediateDebit(ctx, input, enums.LedgerEntryTypeDebitHold)
}

// ReleaseHold appends a credit_release returning previously held funds to the
// payable pool. Released funds skip the hold period; they already served it.
func (s *service) ReleaseHold(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	now := s.clock()
	weekday, hour := s.cfg.Anchor()
	entry := s.newEntry(input, enums.LedgerEntryTypeCreditRelease, now, NextCutoff(now, weekday, hour))
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create release entry")
	}
	return entry, nil
}

// RecordRefund appends a debit_refund clawing back a prior credit. Refunds
// carrying an order reference are deduplicated like credits.
func (s *service) RecordRefund(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if input.OrderRefID != "" {
		exists, err := s.repo.HasEntryForOrderRef(ctx, input.VendorID, input.OrderRefID, enums.LedgerEntryTypeDebitRefund)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order reference")
		}
		if exists {
			ctx = s.logg.WithVendorID(ctx, input.VendorID.String())
			s.logg.Warn(ctx, fmt.Sprintf("duplicate refund for order ref %s ignored", input.OrderRefID))
			return nil, nil
		}
	}
	return s.recordImmediateDebit(ctx, input, enums.LedgerEntryTypeDebitRefund)
}

func (s *service) recordImmediateDebit(ctx context.Context, input RecordEntryInput, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	now := s.clock()
	weekday, hour := s.cfg.Anchor()
	entry := s.newEntry(input, entryType, now, NextCutoff(now, weekday, hour))
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("create %s entry", entryType))
	}
	return entry, nil
}

func (s *service) Breakdown(ctx context.Context, vendorID uuid.UUID, at time.Time) (*VendorBreakdown, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if at.IsZero() {
		at = s.clock()
	}
	weekday, hour := s.cfg.Anchor()
	cutoff := NextCutoff(at, weekday, hour)

	totals, err := s.repo.SumUnsettled(ctx, vendorID, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum unsettled entries")
	}
	sources, err := s.repo.SumUnsettledBySource(ctx, vendorID, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum unsettled entries by source")
	}
	return &VendorBreakdown{
		VendorID:      vendorID,
		EligibleMinor: totals.EligibleMinor(),
		PendingMinor:  totals.CreditFutureMinor,
		DebitDueMinor: totals.DebitDueMinor,
		Sources:       sources,
		Cutoff:        cutoff,
		NextCutoff:    cutoff.AddDate(0, 0, 7),
	}, nil
}

func (s *service) Entries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*EntriesPage, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	entries, next, err := s.repo.ListByVendor(ctx, vendorID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &EntriesPage{Items: entries, Cursor: cursor}, nil
}

func (s *service) EntriesForBatch(ctx context.Context, batchID string) ([]models.LedgerEntry, error) {
	if batchID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id required")
	}
	entries, err := s.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batch entries")
	}
	return entries, nil
}

func (s *service) validateInput(input RecordEntryInput) error {
	if input.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if input.AmountMinor <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger source %q", input.Source))
	}
	if input.Currency != "" && !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}
	return nil
}

func (s *service) newEntry(input RecordEntryInput, entryType enums.LedgerEntryType, now, target time.Time) *models.LedgerEntry {
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	return &models.LedgerEntry{
		ID:             uuid.New(),
		VendorID:       input.VendorID,
		AmountMinor:    input.AmountMinor,
		Type:           entryType,
		Source:         input.Source,
		Currency:       currency,
		TargetPayoutAt: target,
		OrderRefKind:   input.OrderRefKind,
		OrderRefID:     input.OrderRefID,
		Note:           input.Note,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      now,
	}
}
