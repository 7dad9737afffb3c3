package wallets

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stallfront/stallfront-backend/api/middleware"
	"github.com/stallfront/stallfront-backend/api/responses"
	"github.com/stallfront/stallfront-backend/api/validators"
	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/internal/payouts"
	"github.com/stallfront/stallfront-backend/internal/vendors"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
	"github.com/stallfront/stallfront-backend/pkg/pagination"
)

// WalletService describes the vendor wallet reads used by the HTTP layer.
type WalletService interface {
	Wallet(ctx context.Context, vendorID uuid.UUID) (*vendors.WalletView, error)
}

// EntryService lists a vendor's ledger history.
type EntryService interface {
	Entries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ledger.EntriesPage, error)
}

// UpcomingService previews the next disbursement.
type UpcomingService interface {
	UpcomingPayout(ctx context.Context, vendorID uuid.UUID) (*payouts.UpcomingPayout, error)
}

type walletResponse struct {
	VendorID      string                `json:"vendor_id"`
	DisplayName   string                `json:"display_name"`
	Currency      string                `json:"currency"`
	Eligible      string                `json:"eligible"`
	EligibleMinor int64                 `json:"eligible_minor"`
	Pending       string                `json:"pending"`
	PendingMinor  int64                 `json:"pending_minor"`
	DebitDueMinor int64                 `json:"debit_due_minor"`
	Sources       []ledger.SourceTotals `json:"sources"`
	Cutoff        string                `json:"cutoff"`
	NextCutoff    string                `json:"next_cutoff"`
}

type entryResponse struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Source         string  `json:"source"`
	Amount         string  `json:"amount"`
	AmountMinor    int64   `json:"amount_minor"`
	Currency       string  `json:"currency"`
	OrderRefID     string  `json:"order_ref_id,omitempty"`
	PayoutBatchID  *string `json:"payout_batch_id,omitempty"`
	TargetPayoutAt string  `json:"target_payout_at"`
	CreatedAt      string  `json:"created_at"`
}

type entryListResponse struct {
	Entries []entryResponse `json:"entries"`
	Cursor  string          `json:"cursor,omitempty"`
}

type upcomingResponse struct {
	VendorID    string                `json:"vendor_id"`
	CutoffAt    string                `json:"cutoff_at"`
	Amount      string                `json:"amount"`
	AmountMinor int64                 `json:"amount_minor"`
	Pending     string                `json:"pending"`
	Sources     []ledger.SourceTotals `json:"sources"`
	Payable     bool                  `json:"payable"`
}

// minorToAmount renders minor units as a fixed two-decimal string for
// display. All arithmetic stays in int64 minor units.
func minorToAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// requireVendorScope resolves the vendor from the path and enforces that
// vendor tokens only ever read their own wallet.
func requireVendorScope(r *http.Request) (uuid.UUID, error) {
	vendorID, err := validators.ParseUUIDParam(r, "vendorID")
	if err != nil {
		return uuid.Nil, err
	}
	if middleware.RoleFromContext(r.Context()) == string(enums.ActorRoleVendor) {
		if middleware.VendorIDFromContext(r.Context()) != vendorID.String() {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "wallet belongs to another vendor")
		}
	}
	return vendorID, nil
}

// Show returns the vendor record joined with its live ledger breakdown.
func Show(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := requireVendorScope(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.Wallet(ctx, vendorID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, walletResponse{
			VendorID:      view.Vendor.ID.String(),
			DisplayName:   view.Vendor.DisplayName,
			Currency:      string(view.Vendor.Currency),
			Eligible:      minorToAmount(view.Breakdown.EligibleMinor),
			EligibleMinor: view.Breakdown.EligibleMinor,
			Pending:       minorToAmount(view.Breakdown.PendingMinor),
			PendingMinor:  view.Breakdown.PendingMinor,
			DebitDueMinor: view.Breakdown.DebitDueMinor,
			Sources:       view.Breakdown.Sources,
			Cutoff:        view.Breakdown.Cutoff.Format(time.RFC3339),
			NextCutoff:    view.Breakdown.NextCutoff.Format(time.RFC3339),
		})
	}
}

// Entries returns a vendor's ledger history, newest first.
func Entries(svc EntryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := requireVendorScope(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.Entries(ctx, vendorID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := entryListResponse{
			Entries: make([]entryResponse, 0, len(page.Items)),
			Cursor:  page.Cursor,
		}
		for _, item := range page.Items {
			out.Entries = append(out.Entries, entryResponse{
				ID:             item.ID.String(),
				Type:           string(item.Type),
				Source:         string(item.Source),
				Amount:         minorToAmount(item.AmountMinor),
				AmountMinor:    item.AmountMinor,
				Currency:       string(item.Currency),
				OrderRefID:     item.OrderRefID,
				PayoutBatchID:  item.PayoutBatchID,
				TargetPayoutAt: item.TargetPayoutAt.Format(time.RFC3339),
				CreatedAt:      item.CreatedAt.Format(time.RFC3339),
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// Upcoming previews the vendor's next scheduled disbursement.
func Upcoming(svc UpcomingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := requireVendorScope(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		upcoming, err := svc.UpcomingPayout(ctx, vendorID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, upcomingResponse{
			VendorID:    upcoming.VendorID.String(),
			CutoffAt:    upcoming.CutoffAt.Format(time.RFC3339),
			Amount:      minorToAmount(upcoming.AmountMinor),
			AmountMinor: upcoming.AmountMinor,
			Pending:     minorToAmount(upcoming.PendingMinor),
			Sources:     upcoming.Sources,
			Payable:     upcoming.Payable,
		})
	}
}
