package payoutops

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/api/middleware"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

type testBatchService struct {
	runFn       func(ctx context.Context, input payouts.RunInput) (*models.PayoutBatch, error)
	retryFn     func(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error)
	getFn       func(ctx context.Context, batchID string) (*models.PayoutBatch, error)
	listFn      func(ctx context.Context, limit int) ([]models.PayoutBatch, error)
	remindersFn func(ctx context.Context, dryRun bool) (payouts.ReminderOutcome, error)
	reconcileFn func(ctx context.Context, input payouts.ReconcileInput) (*models.PayoutBatch, error)
	backfillFn  func(ctx context.Context, input payouts.BackfillInput) (*models.PayoutBatch, error)
}

func (s *testBatchService) RunPayoutBatch(ctx context.Context, input payouts.RunInput) (*models.PayoutBatch, error) {
	if s.runFn != nil {
		return s.runFn(ctx, input)
	}
	return &models.PayoutBatch{BatchID: "POB-20260109-0001"}, nil
}

func (s *testBatchService) RetryFailedPayouts(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, originalBatchID, dryRun, createdBy)
	}
	return &models.PayoutBatch{BatchID: originalBatchID + "-R1"}, nil
}

func (s *testBatchService) GetBatch(ctx context.Context, batchID string) (*models.PayoutBatch, error) {
	if s.getFn != nil {
		return s.getFn(ctx, batchID)
	}
	return &models.PayoutBatch{BatchID: batchID}, nil
}

func (s *testBatchService) ListBatches(ctx context.Context, limit int) ([]models.PayoutBatch, error) {
	if s.listFn != nil {
		return s.listFn(ctx, limit)
	}
	return []models.PayoutBatch{}, nil
}

func (s *testBatchService) SendPayoutReminders(ctx context.Context, dryRun bool) (payouts.ReminderOutcome, error) {
	if s.remindersFn != nil {
		return s.remindersFn(ctx, dryRun)
	}
	return payouts.ReminderOutcome{}, nil
}

func (s *testBatchService) ReconcileManualPayout(ctx context.Context, input payouts.ReconcileInput) (*models.PayoutBatch, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, input)
	}
	return &models.PayoutBatch{BatchID: "POB-MAN-20260106093000-00ff"}, nil
}

func (s *testBatchService) BackfillPayoutBatch(ctx context.Context, input payouts.BackfillInput) (*models.PayoutBatch, error) {
	if s.backfillFn != nil {
		return s.backfillFn(ctx, input)
	}
	return &models.PayoutBatch{BatchID: input.BatchID}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func adminRequest(method, target string, body []byte) *http.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.NewString(), "admin", ""))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestRunBatchPassesOptionsThrough(t *testing.T) {
	var got payouts.RunInput
	svc := &testBatchService{
		runFn: func(ctx context.Context, input payouts.RunInput) (*models.PayoutBatch, error) {
			got = input
			return &models.PayoutBatch{BatchID: "POB-20260109-0001"}, nil
		},
	}

	vendorID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"cutoff":     "2026-01-09T18:00:00Z",
		"dry_run":    true,
		"vendor_ids": []string{vendorID.String()},
	})

	resp := httptest.NewRecorder()
	RunBatch(svc, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/batches", body))

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if !got.DryRun {
		t.Fatal("expected dry run flag to pass through")
	}
	want := time.Date(2026, 1, 9, 18, 0, 0, 0, time.UTC)
	if !got.Cutoff.Equal(want) {
		t.Fatalf("unexpected cutoff %s", got.Cutoff)
	}
	if len(got.VendorIDs) != 1 || got.VendorIDs[0] != vendorID {
		t.Fatalf("unexpected vendor filter %v", got.VendorIDs)
	}
	if got.CreatedBy == "" {
		t.Fatal("expected created_by to carry the acting admin")
	}
}

func TestRunBatchRejectsBadCutoff(t *testing.T) {
	body := []byte(`{"cutoff":"next friday"}`)
	resp := httptest.NewRecorder()
	RunBatch(&testBatchService{}, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/batches", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed cutoff got %d", resp.Code)
	}
}

func TestRunBatchRejectsBadVendorID(t *testing.T) {
	body := []byte(`{"vendor_ids":["not-a-uuid"]}`)
	resp := httptest.NewRecorder()
	RunBatch(&testBatchService{}, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/batches", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed vendor id got %d", resp.Code)
	}
}

func TestRetryUsesPathBatchID(t *testing.T) {
	var gotID string
	var gotDryRun bool
	svc := &testBatchService{
		retryFn: func(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error) {
			gotID = originalBatchID
			gotDryRun = dryRun
			return &models.PayoutBatch{BatchID: originalBatchID + "-R1"}, nil
		},
	}

	req := adminRequest(http.MethodPost, "/api/admin/v1/payouts/batches/POB-20260109-abcd/retry", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("batchID", "POB-20260109-abcd")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	resp := httptest.NewRecorder()
	Retry(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if gotID != "POB-20260109-abcd" {
		t.Fatalf("unexpected batch id %q", gotID)
	}
	if gotDryRun {
		t.Fatal("expected dry run to default to false")
	}
}

func TestRetryPassesDryRunFlag(t *testing.T) {
	var gotDryRun bool
	svc := &testBatchService{
		retryFn: func(ctx context.Context, originalBatchID string, dryRun bool, createdBy string) (*models.PayoutBatch, error) {
			gotDryRun = dryRun
			return &models.PayoutBatch{BatchID: originalBatchID + "-R1", DryRun: true}, nil
		},
	}

	req := adminRequest(http.MethodPost, "/api/admin/v1/payouts/batches/POB-20260109-abcd/retry?dry_run=true", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("batchID", "POB-20260109-abcd")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	resp := httptest.NewRecorder()
	Retry(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !gotDryRun {
		t.Fatal("expected dry run flag to pass through")
	}
}

func TestRetryRejectsBadDryRunValue(t *testing.T) {
	req := adminRequest(http.MethodPost, "/api/admin/v1/payouts/batches/POB-20260109-abcd/retry?dry_run=maybe", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("batchID", "POB-20260109-abcd")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	resp := httptest.NewRecorder()
	Retry(&testBatchService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed dry_run got %d", resp.Code)
	}
}

func TestReconcileValidatesBody(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "missing vendor", body: `{"amount_minor":100,"transfer_code":"tr_1"}`},
		{name: "zero amount", body: `{"vendor_id":"` + uuid.NewString() + `","amount_minor":0,"transfer_code":"tr_1"}`},
		{name: "missing transfer code", body: `{"vendor_id":"` + uuid.NewString() + `","amount_minor":100}`},
		{name: "unknown field", body: `{"vendor_id":"` + uuid.NewString() + `","amount_minor":100,"transfer_code":"tr_1","surprise":true}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			Reconcile(&testBatchService{}, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/reconcile", []byte(tc.body)))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", resp.Code, resp.Body.String())
			}
		})
	}
}

func TestReconcilePassesInputThrough(t *testing.T) {
	var got payouts.ReconcileInput
	svc := &testBatchService{
		reconcileFn: func(ctx context.Context, input payouts.ReconcileInput) (*models.PayoutBatch, error) {
			got = input
			return &models.PayoutBatch{BatchID: "POB-MAN-20260106093000-00ff"}, nil
		},
	}

	vendorID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"vendor_id":     vendorID.String(),
		"amount_minor":  12500,
		"transfer_code": "tr_manual_1",
		"paid_at":       "2026-01-06T09:30:00Z",
		"note":          "wire sent by finance",
	})

	resp := httptest.NewRecorder()
	Reconcile(svc, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/reconcile", body))

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.VendorID != vendorID {
		t.Fatalf("unexpected vendor %s", got.VendorID)
	}
	if got.AmountMinor != 12500 {
		t.Fatalf("unexpected amount %d", got.AmountMinor)
	}
	if got.TransferCode != "tr_manual_1" {
		t.Fatalf("unexpected transfer code %q", got.TransferCode)
	}
	if got.PaidAt.IsZero() {
		t.Fatal("expected paid_at to parse")
	}
}

func TestBackfillRequiresVendorLines(t *testing.T) {
	body := []byte(`{"batch_id":"POB-20251205-1a2b","cutoff_at":"2025-12-05T18:00:00Z","vendors":[]}`)
	resp := httptest.NewRecorder()
	Backfill(&testBatchService{}, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/backfill", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty vendor list got %d", resp.Code)
	}
}

func TestBackfillPassesInputThrough(t *testing.T) {
	var got payouts.BackfillInput
	svc := &testBatchService{
		backfillFn: func(ctx context.Context, input payouts.BackfillInput) (*models.PayoutBatch, error) {
			got = input
			return &models.PayoutBatch{BatchID: input.BatchID}, nil
		},
	}

	vendorID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"batch_id":  "POB-20251205-1a2b",
		"cutoff_at": "2025-12-05T18:00:00Z",
		"vendors": []map[string]any{
			{"vendor_id": vendorID.String(), "amount_minor": 9900, "transfer_code": "tr_hist_1"},
		},
		"confirm_overwrite": true,
	})

	resp := httptest.NewRecorder()
	Backfill(svc, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/backfill", body))

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.BatchID != "POB-20251205-1a2b" {
		t.Fatalf("unexpected batch id %q", got.BatchID)
	}
	if len(got.Vendors) != 1 || got.Vendors[0].VendorID != vendorID || got.Vendors[0].AmountMinor != 9900 {
		t.Fatalf("unexpected vendor lines %+v", got.Vendors)
	}
	if !got.ConfirmOverwrite {
		t.Fatal("expected overwrite confirmation to pass through")
	}
}

func TestListClampsLimit(t *testing.T) {
	var gotLimit int
	svc := &testBatchService{
		listFn: func(ctx context.Context, limit int) ([]models.PayoutBatch, error) {
			gotLimit = limit
			return []models.PayoutBatch{}, nil
		},
	}

	resp := httptest.NewRecorder()
	List(svc, testLogger())(resp, adminRequest(http.MethodGet, "/api/admin/v1/payouts/batches?limit=10", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if gotLimit != 10 {
		t.Fatalf("unexpected limit %d", gotLimit)
	}
}

func TestRemindersReportsCount(t *testing.T) {
	var gotDryRun bool
	svc := &testBatchService{
		remindersFn: func(ctx context.Context, dryRun bool) (payouts.ReminderOutcome, error) {
			gotDryRun = dryRun
			return payouts.ReminderOutcome{TotalVendors: 5, Sent: 4, Failed: 1}, nil
		},
	}

	resp := httptest.NewRecorder()
	Reminders(svc, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/reminders", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if gotDryRun {
		t.Fatal("expected dry run to default to false")
	}
	var envelope struct {
		Data reminderResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.TotalVendors != 5 {
		t.Fatalf("unexpected vendor count %d", envelope.Data.TotalVendors)
	}
	if envelope.Data.Sent != 4 {
		t.Fatalf("unexpected sent count %d", envelope.Data.Sent)
	}
	if envelope.Data.Failed != 1 {
		t.Fatalf("unexpected failed count %d", envelope.Data.Failed)
	}
}

func TestRemindersPassesDryRunFlag(t *testing.T) {
	var gotDryRun bool
	svc := &testBatchService{
		remindersFn: func(ctx context.Context, dryRun bool) (payouts.ReminderOutcome, error) {
			gotDryRun = dryRun
			return payouts.ReminderOutcome{TotalVendors: 3}, nil
		},
	}

	resp := httptest.NewRecorder()
	Reminders(svc, testLogger())(resp, adminRequest(http.MethodPost, "/api/admin/v1/payouts/reminders?dry_run=true", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !gotDryRun {
		t.Fatal("expected dry run flag to pass through")
	}
}
