package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stallfront/stallfront-backend/internal/accrual"
	"github.com/stallfront/stallfront-backend/internal/cron"
	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/internal/notifications"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/internal/vendors"
	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/db"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/metrics"
	"github.com/stallfront/stallfront-backend/pkg/migrate"
	"github.com/stallfront/stallfront-backend/pkg/pubsub"
	"github.com/stallfront/stallfront-backend/pkg/redis"
	"github.com/stallfront/stallfront-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "payout-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "payout-worker"

	logg = logger.New(logger.Options{
		ServiceName: "payout-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	payoutMetrics := metrics.NewPayoutMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledgerRepo,
		Config: cfg.Payout,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	matcher, err := ledger.NewMatcher(ledger.MatcherParams{
		Repo:         ledgerRepo,
		Logger:       logg,
		Metrics:      payoutMetrics,
		TxEntryLimit: cfg.Payout.TxEntryLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement matcher", err)
		os.Exit(1)
	}

	vendorService, err := vendors.NewService(vendors.ServiceParams{
		Repo:      vendors.NewRepository(dbClient.DB()),
		Breakdown: ledgerService,
		DueLister: ledgerRepo,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create vendor service", err)
		os.Exit(1)
	}

	notificationService, err := notifications.NewService(notifications.ServiceParams{
		Publisher: pubsubClient.NotificationPublisher(),
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	payoutService, err := payouts.NewService(payouts.ServiceParams{
		DB:        dbClient,
		Repo:      payouts.NewRepository(dbClient.DB()),
		Ledger:    ledgerRepo,
		Matcher:   matcher,
		Vendors:   vendors.NewRepository(dbClient.DB()),
		Provider:  payouts.NewStripeTransferProvider(stripeClient),
		Notifier:  notificationService,
		Reminders: redisClient,
		Metrics:   payoutMetrics,
		Logger:    logg,
		Config:    cfg.Payout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout service", err)
		os.Exit(1)
	}

	payoutJob, err := cron.NewPayoutJob(cron.PayoutJobParams{
		Logger:  logg,
		Runner:  payoutService,
		Vendors: vendorService,
		Config:  cfg.Payout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout job", err)
		os.Exit(1)
	}

	reminderJob, err := cron.NewReminderJob(logg, payoutService)
	if err != nil {
		logg.Error(context.Background(), "failed to create reminder job", err)
		os.Exit(1)
	}

	balanceJob, err := cron.NewBalanceRefreshJob(cron.BalanceRefreshJobParams{
		Logger:  logg,
		Vendors: vendorService,
		Config:  cfg.Payout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create balance refresh job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("payout-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(payoutJob, reminderJob, balanceJob),
		Lock:     lock,
		Metrics:  cronMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	consumer, err := accrual.NewConsumer(ledgerService, pubsubClient.OrdersSubscription(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create accrual consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting payout worker")

	errCh := make(chan error, 2)
	go func() {
		errCh <- cronService.Run(ctx)
	}()
	go func() {
		errCh <- consumer.Run(ctx)
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "payout worker stopped unexpectedly", err)
		stop()
		<-errCh
		os.Exit(1)
	}
	stop()
	<-errCh

	logg.Info(ctx, "payout worker shutting down gracefully")
}
