package payouts

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/stallfront/stallfront-backend/pkg/db/models"
)

// Repository manages persistence for payout batches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.PayoutBatch) error
	GetByID(ctx context.Context, batchID string) (*models.PayoutBatch, error)
	ListRecent(ctx context.Context, limit int) ([]models.PayoutBatch, error)
	Delete(ctx context.Context, batchID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout batch repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, batch *models.PayoutBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) GetByID(ctx context.Context, batchID string) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	err := r.db.WithContext(ctx).First(&batch, "batch_id = ?", batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) Delete(ctx context.Context, batchID string) error {
	return r.db.WithContext(ctx).Delete(&models.PayoutBatch{}, "batch_id = ?", batchID).Error
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]models.PayoutBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var batches []models.PayoutBatch
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, batch_id DESC").
		Limit(limit).
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}
