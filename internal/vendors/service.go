package vendors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

type breakdownProvider interface {
	Breakdown(ctx context.Context, vendorID uuid.UUID, at time.Time) (*ledger.VendorBreakdown, error)
}

type dueVendorLister interface {
	VendorsWithCreditsDue(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// Service answers vendor lookups and keeps the stored balance projection in
// step with the ledger.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	List(ctx context.Context, params pagination.Params) (*ListResult, error)
	Wallet(ctx context.Context, id uuid.UUID) (*WalletView, error)
	RefreshBalanceProjection(ctx context.Context, id uuid.UUID) (int64, error)
	RefreshDueBalances(ctx context.Context, cutoff time.Time) (int, error)
}

// ListResult is one page of vendors.
type ListResult struct {
	Items  []models.Vendor `json:"items"`
	Cursor string          `json:"cursor,omitempty"`
}

// WalletView joins the vendor record with its live ledger breakdown.
type WalletView struct {
	Vendor    *models.Vendor          `json:"vendor"`
	Breakdown *ledger.VendorBreakdown `json:"breakdown"`
}

type service struct {
	repo      Repository
	breakdown breakdownProvider
	due       dueVendorLister
	logg      *logger.Logger
	clock     func() time.Time
}

// ServiceParams wires the vendor service dependencies.
type ServiceParams struct {
	Repo      Repository
	Breakdown breakdownProvider
	DueLister dueVendorLister
	Logger    *logger.Logger
	Clock     func() time.Time
}

// NewService builds the vendor service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("vendor repository required")
	}
	if params.Breakdown == nil {
		return nil, fmt.Errorf("ledger breakdown provider required")
	}
	if params.DueLister == nil {
		return nil, fmt.Errorf("due vendor lister required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Clock == nil {
		params.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		breakdown: params.Breakdown,
		due:       params.DueLister,
		logg:      params.Logger,
		clock:     params.Clock,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	vendor, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get vendor")
	}
	if vendor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}
	return vendor, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*ListResult, error) {
	vendors, next, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendors")
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: vendors, Cursor: cursor}, nil
}

func (s *service) Wallet(ctx context.Context, id uuid.UUID) (*WalletView, error) {
	vendor, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.breakdown.Breakdown(ctx, id, s.clock())
	if err != nil {
		return nil, err
	}
	return &WalletView{Vendor: vendor, Breakdown: breakdown}, nil
}

// RefreshBalanceProjection recomputes the stored eligible balance from the
// ledger and returns the fresh value. The projection exists for listing
// screens only; settlement always recomputes from entries.
func (s *service) RefreshBalanceProjection(ctx context.Context, id uuid.UUID) (int64, error) {
	vendor, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	breakdown, err := s.breakdown.Breakdown(ctx, vendor.ID, now)
	if err != nil {
		return 0, err
	}
	if err := s.repo.UpdateBalanceProjection(ctx, vendor.ID, breakdown.EligibleMinor, now); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance projection")
	}
	return breakdown.EligibleMinor, nil
}

// RefreshDueBalances refreshes the projection for every vendor holding
// credits payable at the cutoff. Returns how many vendors were refreshed.
func (s *service) RefreshDueBalances(ctx context.Context, cutoff time.Time) (int, error) {
	if cutoff.IsZero() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cutoff required")
	}
	ids, err := s.due.VendorsWithCreditsDue(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendors with credits due")
	}

	refreshed := 0
	for _, id := range ids {
		if _, err := s.RefreshBalanceProjection(ctx, id); err != nil {
			ctx := s.logg.WithVendorID(ctx, id.String())
			s.logg.Error(ctx, "refresh balance projection failed", err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
