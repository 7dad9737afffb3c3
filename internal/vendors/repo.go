package vendors

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

// Repository manages persistence for vendors.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, vendor *models.Vendor) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Vendor, error)
	List(ctx context.Context, params pagination.Params) ([]models.Vendor, *pagination.Cursor, error)
	UpdateBalanceProjection(ctx context.Context, id uuid.UUID, balanceMinor int64, refreshedAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a vendor repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, vendor *models.Vendor) error {
	return r.db.WithContext(ctx).Create(vendor).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).First(&vendor, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Vendor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var vendors []models.Vendor
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&vendors).Error; err != nil {
		return nil, err
	}
	return vendors, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params) ([]models.Vendor, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Vendor{})
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, nil, err
		}
		if cursor != nil {
			query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
		}
	}

	var vendors []models.Vendor
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&vendors).Error; err != nil {
		return nil, nil, err
	}

	if len(vendors) > normalized {
		next := vendors[normalized]
		vendors = vendors[:normalized]
		return vendors, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return vendors, nil, nil
}

func (r *repository) UpdateBalanceProjection(ctx context.Context, id uuid.UUID, balanceMinor int64, refreshedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"eligible_balance_minor": balanceMinor,
			"balance_refreshed_at":   refreshedAt,
		}).Error
}
