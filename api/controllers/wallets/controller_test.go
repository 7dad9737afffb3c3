package wallets

import (
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
	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/internal/vendors"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

type testWalletService struct {
	walletFn func(ctx context.Context, vendorID uuid.UUID) (*vendors.WalletView, error)
}

func (s *testWalletService) Wallet(ctx context.Context, vendorID uuid.UUID) (*vendors.WalletView, error) {
	if s.walletFn != nil {
		return s.walletFn(ctx, vendorID)
	}
	return nil, nil
}

type testEntryService struct {
	entriesFn func(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ledger.EntriesPage, error)
}

func (s *testEntryService) Entries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ledger.EntriesPage, error) {
	if s.entriesFn != nil {
		return s.entriesFn(ctx, vendorID, params)
	}
	return &ledger.EntriesPage{}, nil
}

type testUpcomingService struct {
	upcomingFn func(ctx context.Context, vendorID uuid.UUID) (*payouts.UpcomingPayout, error)
}

func (s *testUpcomingService) UpcomingPayout(ctx context.Context, vendorID uuid.UUID) (*payouts.UpcomingPayout, error) {
	if s.upcomingFn != nil {
		return s.upcomingFn(ctx, vendorID)
	}
	return &payouts.UpcomingPayout{VendorID: vendorID}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func vendorRequest(t *testing.T, target string, vendorID uuid.UUID, role string, tokenVendor string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.NewString(), role, tokenVendor))
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("vendorID", vendorID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestShowFormatsAmounts(t *testing.T) {
	vendorID := uuid.New()
	cutoff := time.Date(2026, 1, 9, 18, 0, 0, 0, time.UTC)
	svc := &testWalletService{
		walletFn: func(ctx context.Context, id uuid.UUID) (*vendors.WalletView, error) {
			if id != vendorID {
				t.Fatalf("unexpected vendor %s", id)
			}
			return &vendors.WalletView{
				Vendor: &models.Vendor{ID: vendorID, DisplayName: "Brick Lane Breads", Currency: enums.CurrencyUSD},
				Breakdown: &ledger.VendorBreakdown{
					VendorID:      vendorID,
					EligibleMinor: 123450,
					PendingMinor:  999,
					Sources: []ledger.SourceTotals{
						{Source: enums.LedgerSourceEvent, CreditDueMinor: 100000},
						{Source: enums.LedgerSourceStore, CreditDueMinor: 23450, CreditFutureMinor: 999},
					},
					Cutoff:     cutoff,
					NextCutoff: cutoff.AddDate(0, 0, 7),
				},
			}, nil
		},
	}

	req := vendorRequest(t, "/api/v1/vendors/"+vendorID.String()+"/wallet", vendorID, "vendor", vendorID.String())
	resp := httptest.NewRecorder()
	Show(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data walletResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Eligible != "1234.50" {
		t.Fatalf("unexpected eligible amount %q", envelope.Data.Eligible)
	}
	if envelope.Data.Pending != "9.99" {
		t.Fatalf("unexpected pending amount %q", envelope.Data.Pending)
	}
	if envelope.Data.EligibleMinor != 123450 {
		t.Fatalf("unexpected eligible minor %d", envelope.Data.EligibleMinor)
	}
	if envelope.Data.Currency != "USD" {
		t.Fatalf("unexpected currency %q", envelope.Data.Currency)
	}
	if len(envelope.Data.Sources) != 2 {
		t.Fatalf("unexpected source rows %+v", envelope.Data.Sources)
	}
	if envelope.Data.Sources[0].Source != enums.LedgerSourceEvent || envelope.Data.Sources[0].CreditDueMinor != 100000 {
		t.Fatalf("unexpected event row %+v", envelope.Data.Sources[0])
	}
	if envelope.Data.Sources[1].Source != enums.LedgerSourceStore || envelope.Data.Sources[1].CreditFutureMinor != 999 {
		t.Fatalf("unexpected store row %+v", envelope.Data.Sources[1])
	}
}

func TestShowRejectsForeignVendorToken(t *testing.T) {
	vendorID := uuid.New()
	req := vendorRequest(t, "/api/v1/vendors/"+vendorID.String()+"/wallet", vendorID, "vendor", uuid.NewString())
	resp := httptest.NewRecorder()
	Show(&testWalletService{}, testLogger())(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign vendor token got %d", resp.Code)
	}
}

func TestShowAllowsAdminToken(t *testing.T) {
	vendorID := uuid.New()
	svc := &testWalletService{
		walletFn: func(ctx context.Context, id uuid.UUID) (*vendors.WalletView, error) {
			return &vendors.WalletView{
				Vendor:    &models.Vendor{ID: id, DisplayName: "Any", Currency: enums.CurrencyUSD},
				Breakdown: &ledger.VendorBreakdown{VendorID: id},
			}, nil
		},
	}
	req := vendorRequest(t, "/api/v1/vendors/"+vendorID.String()+"/wallet", vendorID, "admin", "")
	resp := httptest.NewRecorder()
	Show(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestEntriesPassesPagination(t *testing.T) {
	vendorID := uuid.New()
	var got pagination.Params
	svc := &testEntryService{
		entriesFn: func(ctx context.Context, id uuid.UUID, params pagination.Params) (*ledger.EntriesPage, error) {
			got = params
			return &ledger.EntriesPage{Cursor: "next-page"}, nil
		},
	}

	req := vendorRequest(t, "/api/v1/vendors/"+vendorID.String()+"/entries?limit=5&cursor=abc", vendorID, "vendor", vendorID.String())
	resp := httptest.NewRecorder()
	Entries(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.Limit != 5 {
		t.Fatalf("unexpected limit %d", got.Limit)
	}
	if got.Cursor != "abc" {
		t.Fatalf("unexpected cursor %q", got.Cursor)
	}
	var envelope struct {
		Data entryListResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Cursor != "next-page" {
		t.Fatalf("unexpected next cursor %q", envelope.Data.Cursor)
	}
}

func TestEntriesRejectsOversizedLimit(t *testing.T) {
	vendorID := uuid.New()
	req := vendorRequest(t, "/api/v1/vendors/"+vendorID.String()+"/entries?limit=5000", vendorID, "vendor", vendorID.String())
	resp := httptest.NewRecorder()
	Entries(&testEntryService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit got %d", resp.Code)
	}
}

func TestUpcomingReportsPreview(t *testing.T) {
	vendorID := uuid.New()
	cutoff := time.Date(2026, 1, 16, 18, 0, 0, 0, time.UTC)
	svc := &testUpcomingService{
		upcomingFn: func(ctx context.Context, id uuid.UUID) (*payouts.UpcomingPayout, error) {
			return &payouts.UpcomingPayout{
				VendorID:    id,
				CutoffAt:    cutoff,
				AmountMinor: 7500,
				Sources: []ledger.SourceTotals{
					{Source: enums.LedgerSourceEvent, CreditDueMinor: 7500},
				},
				Payable: true,
			}, nil
		},
	}

	req := vendorRequest(t, "/api/v1/vendors/"+vendorID.String()+"/upcoming-payout", vendorID, "vendor", vendorID.String())
	resp := httptest.NewRecorder()
	Upcoming(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data upcomingResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Amount != "75.00" {
		t.Fatalf("unexpected amount %q", envelope.Data.Amount)
	}
	if !envelope.Data.Payable {
		t.Fatal("expected payable preview")
	}
	if len(envelope.Data.Sources) != 1 || envelope.Data.Sources[0].CreditDueMinor != 7500 {
		t.Fatalf("unexpected source rows %+v", envelope.Data.Sources)
	}
}
