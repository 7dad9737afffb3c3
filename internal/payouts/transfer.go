package payouts

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/transfer"

	pkgstripe "github.com/stallfront/stallfront-backend/pkg/stripe"
)

// TransferRequest describes one vendor disbursement.
type TransferRequest struct {
	DestinationAccount string
	AmountMinor        int64
	Currency           string
	BatchID            string
	VendorName         string
}

// TransferProvider moves money to a vendor's connected account and returns
// the provider-side transfer code used for reconciliation.
type TransferProvider interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
}

type stripeTransferProvider struct{}

// NewStripeTransferProvider wraps the configured Stripe client as the
// disbursement backend.
func NewStripeTransferProvider(api *pkgstripe.Client) TransferProvider {
	if api == nil {
		return nil
	}
	return &stripeTransferProvider{}
}

func (p *stripeTransferProvider) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.DestinationAccount),
		TransferGroup: stripe.String(req.BatchID),
	}
	params.Context = ctx
	params.AddMetadata("batch_id", req.BatchID)
	if req.VendorName != "" {
		params.AddMetadata("vendor", req.VendorName)
	}

	t, err := transfer.New(params)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}
