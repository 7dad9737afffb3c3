package cron

import (
	"context"
	"fmt"

	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

type reminderSender interface {
	SendPayoutReminders(ctx context.Context, dryRun bool) (payouts.ReminderOutcome, error)
}

// NewReminderJob builds the job that nudges vendors ahead of the cutoff.
// Window checks and per-vendor dedupe live in the payout service; the job
// just gives it a heartbeat.
func NewReminderJob(logg *logger.Logger, sender reminderSender) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sender == nil {
		return nil, fmt.Errorf("reminder sender required")
	}
	return &reminderJob{logg: logg, sender: sender}, nil
}

type reminderJob struct {
	logg   *logger.Logger
	sender reminderSender
}

func (j *reminderJob) Name() string { return "payout-reminders" }

func (j *reminderJob) Run(ctx context.Context) error {
	outcome, err := j.sender.SendPayoutReminders(ctx, false)
	if err != nil {
		return fmt.Errorf("send payout reminders: %w", err)
	}
	if outcome.Sent > 0 || outcome.Failed > 0 {
		j.logg.Info(ctx, fmt.Sprintf("payout reminders: %d sent, %d failed", outcome.Sent, outcome.Failed))
	}
	if outcome.Failed > 0 {
		return fmt.Errorf("%d payout reminders failed to send", outcome.Failed)
	}
	return nil
}
