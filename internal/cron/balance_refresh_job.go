package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

// BalanceRefreshJobParams configure the projection refresh job.
type BalanceRefreshJobParams struct {
	Logger  *logger.Logger
	Vendors projectionRefresher
	Config  config.PayoutConfig
	Clock   func() time.Time
}

// NewBalanceRefreshJob builds the job that recomputes the cached
// eligible-balance column from the ledger. The ledger stays the source of
// truth; this only heals drift in the read-side projection.
func NewBalanceRefreshJob(params BalanceRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendor refresher required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &balanceRefreshJob{
		logg:    params.Logger,
		vendors: params.Vendors,
		cfg:     params.Config,
		clock:   clock,
	}, nil
}

type balanceRefreshJob struct {
	logg    *logger.Logger
	vendors projectionRefresher
	cfg     config.PayoutConfig
	clock   func() time.Time
}

func (j *balanceRefreshJob) Name() string { return "balance-refresh" }

func (j *balanceRefreshJob) Run(ctx context.Context) error {
	weekday, hour := j.cfg.Anchor()
	cutoff := ledger.NextCutoff(j.clock(), weekday, hour)

	refreshed, err := j.vendors.RefreshDueBalances(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("refresh balance projections: %w", err)
	}
	if refreshed > 0 {
		j.logg.Info(ctx, fmt.Sprintf("refreshed %d balance projections", refreshed))
	}
	return nil
}
