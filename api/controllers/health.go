package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stallfront/stallfront-backend/api/responses"
	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stallfront-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the database and redis both answer.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stallfront-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"db": "ok", "redis": "ok"}
		healthy := true
		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				logg.Error(ctx, "database ping failed", err)
				checks["db"] = "unavailable"
				healthy = false
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				logg.Error(ctx, "redis ping failed", err)
				checks["redis"] = "unavailable"
				healthy = false
			}
		}

		if !healthy {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "checks": checks})
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
