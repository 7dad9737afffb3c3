package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

type batchRunner interface {
	RunPayoutBatch(ctx context.Context, input payouts.RunInput) (*models.PayoutBatch, error)
}

type projectionRefresher interface {
	RefreshDueBalances(ctx context.Context, cutoff time.Time) (int, error)
}

// PayoutJobParams configure the weekly payout job.
type PayoutJobParams struct {
	Logger   *logger.Logger
	Runner   batchRunner
	Vendors  projectionRefresher
	Config   config.PayoutConfig
	Clock    func() time.Time
	TestMode *bool
}

// NewPayoutJob builds the job that runs the weekly settlement batch. It
// fires only while the clock sits inside the run window after a cutoff;
// outside the window each cycle is a cheap no-op. Replays inside the window
// are absorbed by the batch id idempotency.
func NewPayoutJob(params PayoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("payout runner required")
	}
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendor refresher required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &payoutJob{
		logg:     params.Logger,
		runner:   params.Runner,
		vendors:  params.Vendors,
		cfg:      params.Config,
		clock:    clock,
		testMode: params.TestMode,
	}, nil
}

type payoutJob struct {
	logg     *logger.Logger
	runner   batchRunner
	vendors  projectionRefresher
	cfg      config.PayoutConfig
	clock    func() time.Time
	testMode *bool
}

func (j *payoutJob) Name() string { return "weekly-payout" }

func (j *payoutJob) Run(ctx context.Context) error {
	now := j.clock()
	weekday, hour := j.cfg.Anchor()
	cutoff := ledger.PreviousCutoff(now, weekday, hour)

	window := j.cfg.RunWindow
	if window <= 0 {
		window = 6 * time.Hour
	}
	if now.Sub(cutoff) > window {
		return nil
	}

	ctx = j.logg.WithField(ctx, "cutoff", cutoff.Format(time.RFC3339))
	batch, err := j.runner.RunPayoutBatch(ctx, payouts.RunInput{
		Cutoff:    cutoff,
		TestMode:  j.testMode,
		CreatedBy: "cron:" + j.Name(),
	})
	if err != nil {
		return fmt.Errorf("run payout batch: %w", err)
	}
	j.logg.Info(ctx, fmt.Sprintf("batch %s finished %s", batch.BatchID, batch.Status))

	// Settlement just changed what the wallets owe; bring the cached
	// projections along.
	refreshed, refreshErr := j.vendors.RefreshDueBalances(ctx, ledger.NextCutoff(now, weekday, hour))
	if refreshErr != nil {
		return fmt.Errorf("refresh balance projections: %w", refreshErr)
	}
	j.logg.Info(ctx, fmt.Sprintf("refreshed %d balance projections", refreshed))
	return nil
}
