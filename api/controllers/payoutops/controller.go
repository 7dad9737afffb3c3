package payoutops

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/api/middleware"
	"github.com/stallfront/stallfront-backend/api/responses"
	"github.com/stallfront/stallfront-backend/api/validators"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

// BatchService describes the payout operations used by the HTTP layer.
type BatchService interface {
	RunPayoutBatch(ctx context.Context, input payouts.RunInput) (*models.PayoutBatch, error)
	RetryFailedPayouts(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error)
	GetBatch(ctx context.Context, batchID string) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, limit int) ([]models.PayoutBatch, error)
	SendPayoutReminders(ctx context.Context, dryRun bool) (payouts.ReminderOutcome, error)
	ReconcileManualPayout(ctx context.Context, input payouts.ReconcileInput) (*models.PayoutBatch, error)
	BackfillPayoutBatch(ctx context.Context, input payouts.BackfillInput) (*models.PayoutBatch, error)
}

type runBatchRequest struct {
	Cutoff    string   `json:"cutoff,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`
	TestMode  *bool    `json:"test_mode,omitempty"`
	VendorIDs []string `json:"vendor_ids,omitempty"`
	BatchID   string   `json:"batch_id,omitempty"`
}

type reconcileRequest struct {
	VendorID     string `json:"vendor_id" validate:"required,uuid"`
	AmountMinor  int64  `json:"amount_minor" validate:"required,gt=0"`
	TransferCode string `json:"transfer_code" validate:"required"`
	PaidAt       string `json:"paid_at,omitempty"`
	Note         string `json:"note,omitempty"`
}

type backfillVendorRequest struct {
	VendorID     string `json:"vendor_id" validate:"required,uuid"`
	AmountMinor  int64  `json:"amount_minor" validate:"required,gt=0"`
	TransferCode string `json:"transfer_code,omitempty"`
}

type backfillRequest struct {
	BatchID          string                  `json:"batch_id" validate:"required"`
	CutoffAt         string                  `json:"cutoff_at" validate:"required"`
	PaidAt           string                  `json:"paid_at,omitempty"`
	Vendors          []backfillVendorRequest `json:"vendors" validate:"required,min=1"`
	TestMode         bool                    `json:"test_mode,omitempty"`
	ConfirmOverwrite bool                    `json:"confirm_overwrite,omitempty"`
}

type reminderResponse struct {
	TotalVendors int `json:"total_vendors"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
}

func actor(ctx context.Context) string {
	if id := middleware.ActorIDFromContext(ctx); id != "" {
		return "admin:" + id
	}
	return "admin"
}

func parseOptionalTime(value, field string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "timestamp must be RFC 3339").WithDetails(map[string]any{"field": field})
	}
	return parsed.UTC(), nil
}

// RunBatch triggers a settlement batch. With no cutoff in the body the most
// recent cutoff is settled, which is also what the cron worker does.
func RunBatch(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req runBatchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cutoff, err := parseOptionalTime(req.Cutoff, "cutoff")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		vendorIDs := make([]uuid.UUID, 0, len(req.VendorIDs))
		for _, raw := range req.VendorIDs {
			id, parseErr := uuid.Parse(raw)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "vendor ids must be uuids").WithDetails(map[string]any{"value": raw}))
				return
			}
			vendorIDs = append(vendorIDs, id)
		}

		batch, err := svc.RunPayoutBatch(ctx, payouts.RunInput{
			Cutoff:    cutoff,
			DryRun:    req.DryRun,
			TestMode:  req.TestMode,
			VendorIDs: vendorIDs,
			BatchID:   req.BatchID,
			CreatedBy: actor(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

// Retry re-runs the failed vendors of a previous batch. With dry_run=true it
// previews the rerun without moving money.
func Retry(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batchID := chi.URLParam(r, "batchID")

		dryRun, err := validators.ParseQueryBool(r, "dry_run", false)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		batch, err := svc.RetryFailedPayouts(ctx, batchID, dryRun, actor(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

// Show returns one batch with its per-vendor results.
func Show(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batch, err := svc.GetBatch(ctx, chi.URLParam(r, "batchID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}

// List returns recent batches, newest first.
func List(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", 25, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		batches, err := svc.ListBatches(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"batches": batches})
	}
}

// Reminders triggers the pre-cutoff vendor notifications. With dry_run=true
// it reports who would be reminded without publishing anything.
func Reminders(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		dryRun, err := validators.ParseQueryBool(r, "dry_run", false)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := svc.SendPayoutReminders(ctx, dryRun)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, reminderResponse{
			TotalVendors: outcome.TotalVendors,
			Sent:         outcome.Sent,
			Failed:       outcome.Failed,
		})
	}
}

// Reconcile records a payment that happened outside the scheduler.
func Reconcile(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req reconcileRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		paidAt, err := parseOptionalTime(req.PaidAt, "paid_at")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		batch, err := svc.ReconcileManualPayout(ctx, payouts.ReconcileInput{
			VendorID:     uuid.MustParse(req.VendorID),
			AmountMinor:  req.AmountMinor,
			TransferCode: req.TransferCode,
			PaidAt:       paidAt,
			Note:         req.Note,
			CreatedBy:    actor(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

// Backfill imports a historical batch under an explicit id.
func Backfill(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req backfillRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cutoffAt, err := parseOptionalTime(req.CutoffAt, "cutoff_at")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		paidAt, err := parseOptionalTime(req.PaidAt, "paid_at")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		vendorLines := make([]payouts.BackfillVendor, 0, len(req.Vendors))
		for _, line := range req.Vendors {
			vendorLines = append(vendorLines, payouts.BackfillVendor{
				VendorID:     uuid.MustParse(line.VendorID),
				AmountMinor:  line.AmountMinor,
				TransferCode: line.TransferCode,
			})
		}

		batch, err := svc.BackfillPayoutBatch(ctx, payouts.BackfillInput{
			BatchID:          req.BatchID,
			CutoffAt:         cutoffAt,
			PaidAt:           paidAt,
			Vendors:          vendorLines,
			TestMode:         req.TestMode,
			ConfirmOverwrite: req.ConfirmOverwrite,
			CreatedBy:        actor(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}
