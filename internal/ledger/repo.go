package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

// UnsettledTotals aggregates a vendor's unmatched entries around a cutoff.
// CreditDueMinor and DebitDueMinor cover entries payable at or before the
// cutoff; CreditFutureMinor is still inside its hold period.
type UnsettledTotals struct {
	CreditDueMinor    int64
	CreditFutureMinor int64
	DebitDueMinor     int64
}

// EligibleMinor is the net amount a payout at the cutoff would disburse.
// Negative means the vendor is overdrawn.
func (t UnsettledTotals) EligibleMinor() int64 {
	return t.CreditDueMinor - t.DebitDueMinor
}

// SourceTotals is one row of a per-source wallet breakdown: the unmatched
// amounts a single sales domain contributed around a cutoff.
type SourceTotals struct {
	Source            enums.LedgerSource `json:"source"`
	CreditDueMinor    int64              `json:"credit_due_minor"`
	CreditFutureMinor int64              `json:"credit_future_minor"`
	DebitDueMinor     int64              `json:"debit_due_minor"`
}

// Repository manages persistence for wallet ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, *pagination.Cursor, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.LedgerEntry, error)
	ListUnsettledCredits(ctx context.Context, vendorID uuid.UUID, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.LedgerEntry, error)
	ListUnsettledDebits(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) ([]models.LedgerEntry, error)
	MarkSettled(ctx context.Context, ids []uuid.UUID, batchID string, paidAt time.Time) (int64, error)
	SumUnsettled(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) (UnsettledTotals, error)
	SumUnsettledBySource(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) ([]SourceTotals, error)
	VendorsWithCreditsDue(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	VendorsSettledInBatch(ctx context.Context, batchID string) ([]uuid.UUID, error)
	HasEntryForBatch(ctx context.Context, batchID string) (bool, error)
	HasEntryForOrderRef(ctx context.Context, vendorID uuid.UUID, orderRefID string, entryType enums.LedgerEntryType) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("vendor_id = ?", vendorID)
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, nil, err
		}
		if cursor != nil {
			query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
		}
	}

	var entries []models.LedgerEntry
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	if len(entries) > normalized {
		next := entries[normalized]
		entries = entries[:normalized]
		return entries, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return entries, nil, nil
}

func (r *repository) ListByBatch(ctx context.Context, batchID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("payout_batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListUnsettledCredits pages a vendor's unmatched credits that are payable at
// the cutoff, oldest first. Ordering by (created_at, id) keeps the walk
// deterministic when entries share a timestamp.
func (r *repository) ListUnsettledCredits(ctx context.Context, vendorID uuid.UUID, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("vendor_id = ?", vendorID).
		Where("type IN ?", []enums.LedgerEntryType{enums.LedgerEntryTypeCreditEligible, enums.LedgerEntryTypeCreditRelease}).
		Where("payout_batch_id IS NULL").
		Where("target_payout_at <= ?", cutoff)
	if after != nil {
		query = query.Where("(created_at, id) > (?, ?)", after.CreatedAt, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.LedgerEntry
	if err := query.Order("created_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListUnsettledDebits(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Where("type IN ?", []enums.LedgerEntryType{enums.LedgerEntryTypeDebitHold, enums.LedgerEntryTypeDebitRefund}).
		Where("payout_batch_id IS NULL").
		Where("target_payout_at <= ?", cutoff).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkSettled stamps the batch onto unmatched entries and returns how many
// rows were actually claimed. The payout_batch_id IS NULL guard makes the
// claim safe against a concurrent settlement of the same entries.
func (r *repository) MarkSettled(ctx context.Context, ids []uuid.UUID, batchID string, paidAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id IN ? AND payout_batch_id IS NULL", ids).
		Updates(map[string]any{
			"payout_batch_id": batchID,
			"paid_at":         paidAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) SumUnsettled(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) (UnsettledTotals, error) {
	var totals UnsettledTotals

	creditTypes := []enums.LedgerEntryType{enums.LedgerEntryTypeCreditEligible, enums.LedgerEntryTypeCreditRelease}
	debitTypes := []enums.LedgerEntryType{enums.LedgerEntryTypeDebitHold, enums.LedgerEntryTypeDebitRefund}

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
			Where("vendor_id = ?", vendorID).
			Where("payout_batch_id IS NULL")
	}

	if err := base().
		Where("type IN ?", creditTypes).
		Where("target_payout_at <= ?", cutoff).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&totals.CreditDueMinor).Error; err != nil {
		return UnsettledTotals{}, err
	}
	if err := base().
		Where("type IN ?", creditTypes).
		Where("target_payout_at > ?", cutoff).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&totals.CreditFutureMinor).Error; err != nil {
		return UnsettledTotals{}, err
	}
	if err := base().
		Where("type IN ?", debitTypes).
		Where("target_payout_at <= ?", cutoff).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&totals.DebitDueMinor).Error; err != nil {
		return UnsettledTotals{}, err
	}
	return totals, nil
}

// SumUnsettledBySource groups a vendor's unmatched entries by the sales
// domain that produced them. Settlement-written payout debits never show up
// here; they always carry a batch id.
func (r *repository) SumUnsettledBySource(ctx context.Context, vendorID uuid.UUID, cutoff time.Time) ([]SourceTotals, error) {
	creditTypes := []enums.LedgerEntryType{enums.LedgerEntryTypeCreditEligible, enums.LedgerEntryTypeCreditRelease}
	debitTypes := []enums.LedgerEntryType{enums.LedgerEntryTypeDebitHold, enums.LedgerEntryTypeDebitRefund}

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
			Where("vendor_id = ?", vendorID).
			Where("payout_batch_id IS NULL")
	}

	type sourceSum struct {
		Source enums.LedgerSource
		Total  int64
	}
	bySource := map[enums.LedgerSource]*SourceTotals{}
	row := func(source enums.LedgerSource) *SourceTotals {
		if existing, ok := bySource[source]; ok {
			return existing
		}
		fresh := &SourceTotals{Source: source}
		bySource[source] = fresh
		return fresh
	}

	var sums []sourceSum
	if err := base().
		Where("type IN ?", creditTypes).
		Where("target_payout_at <= ?", cutoff).
		Select("source, COALESCE(SUM(amount_minor), 0) AS total").
		Group("source").
		Scan(&sums).Error; err != nil {
		return nil, err
	}
	for _, s := range sums {
		row(s.Source).CreditDueMinor = s.Total
	}

	sums = nil
	if err := base().
		Where("type IN ?", creditTypes).
		Where("target_payout_at > ?", cutoff).
		Select("source, COALESCE(SUM(amount_minor), 0) AS total").
		Group("source").
		Scan(&sums).Error; err != nil {
		return nil, err
	}
	for _, s := range sums {
		row(s.Source).CreditFutureMinor = s.Total
	}

	sums = nil
	if err := base().
		Where("type IN ?", debitTypes).
		Where("target_payout_at <= ?", cutoff).
		Select("source, COALESCE(SUM(amount_minor), 0) AS total").
		Group("source").
		Scan(&sums).Error; err != nil {
		return nil, err
	}
	for _, s := range sums {
		row(s.Source).DebitDueMinor = s.Total
	}

	out := make([]SourceTotals, 0, len(bySource))
	for _, totals := range bySource {
		out = append(out, *totals)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (r *repository) VendorsWithCreditsDue(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("type IN ?", []enums.LedgerEntryType{enums.LedgerEntryTypeCreditEligible, enums.LedgerEntryTypeCreditRelease}).
		Where("payout_batch_id IS NULL").
		Where("target_payout_at <= ?", cutoff).
		Distinct("vendor_id").
		Order("vendor_id ASC").
		Pluck("vendor_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// VendorsSettledInBatch lists the vendors whose ledgers already carry
// entries stamped with the batch id. Backfill overwrites use it to avoid
// settling the same vendor twice under one batch.
func (r *repository) VendorsSettledInBatch(ctx context.Context, batchID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("payout_batch_id = ?", batchID).
		Distinct("vendor_id").
		Order("vendor_id ASC").
		Pluck("vendor_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) HasEntryForBatch(ctx context.Context, batchID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("payout_batch_id = ?", batchID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) HasEntryForOrderRef(ctx context.Context, vendorID uuid.UUID, orderRefID string, entryType enums.LedgerEntryType) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("vendor_id = ?", vendorID).
		Where("order_ref_id = ?", orderRefID).
		Where("type = ?", entryType).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
