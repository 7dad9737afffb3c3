package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stallfront/stallfront-backend/api/controllers"
	payoutopscontrollers "github.com/stallfront/stallfront-backend/api/controllers/payoutops"
	walletcontrollers "github.com/stallfront/stallfront-backend/api/controllers/wallets"
	"github.com/stallfront/stallfront-backend/api/middleware"
	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/internal/vendors"
	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/db"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	vendorService vendors.Service,
	ledgerService ledger.Service,
	payoutService payouts.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/v1/vendors/{vendorID}", func(r chi.Router) {
			r.Get("/wallet", walletcontrollers.Show(vendorService, logg))
			r.Get("/entries", walletcontrollers.Entries(ledgerService, logg))
			r.Get("/upcoming-payout", walletcontrollers.Upcoming(payoutService, logg))
		})

		r.Route("/admin/v1/payouts", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.ActorRoleAdmin), logg))
			r.Post("/batches", payoutopscontrollers.RunBatch(payoutService, logg))
			r.Get("/batches", payoutopscontrollers.List(payoutService, logg))
			r.Get("/batches/{batchID}", payoutopscontrollers.Show(payoutService, logg))
			r.Post("/batches/{batchID}/retry", payoutopscontrollers.Retry(payoutService, logg))
			r.Post("/reminders", payoutopscontrollers.Reminders(payoutService, logg))
			r.Post("/reconcile", payoutopscontrollers.Reconcile(payoutService, logg))
			r.Post("/backfill", payoutopscontrollers.Backfill(payoutService, logg))
		})
	})

	return r
}
