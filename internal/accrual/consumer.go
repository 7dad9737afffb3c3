package accrual

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

// Order event kinds published by the commerce side. Anything else on the
// subscription is acked and ignored.
const (
	eventOrderSettled  = "order.settled"
	eventOrderRefunded = "order.refunded"
	eventOrderDisputed = "order.disputed"
	eventOrderReleased = "order.dispute_released"

	kindAttribute = "kind"
	consumerActor = "accrual-consumer"
)

type entryWriter interface {
	RecordCredit(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error)
	RecordRefund(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error)
	RecordHold(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error)
	ReleaseHold(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error)
}

// Consumer turns order lifecycle events into wallet ledger entries. Settled
// orders accrue credits, refunds and disputes debit, resolved disputes
// release. Replayed events are absorbed by the ledger's order-reference
// deduplication.
type Consumer struct {
	writer       entryWriter
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer wires the consumer to an order events subscription.
func NewConsumer(writer entryWriter, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if writer == nil {
		return nil, errors.New("ledger writer is required")
	}
	if subscription == nil {
		return nil, errors.New("order events subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		writer:       writer,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes order events until the context is canceled or the
// subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

type orderEvent struct {
	EventID     string    `json:"event_id"`
	OrderID     string    `json:"order_id"`
	VendorID    string    `json:"vendor_id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Source      string    `json:"source"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// eventSource maps the sales domain stamped on the event to a ledger source.
// Older producers omit the field; those accrue as event sales. Anything the
// ledger does not know is poison.
func eventSource(raw string) (enums.LedgerSource, error) {
	if raw == "" {
		return enums.LedgerSourceEvent, nil
	}
	source, err := enums.ParseLedgerSource(raw)
	if err != nil {
		return "", err
	}
	if source == enums.LedgerSourceSettlement {
		return "", fmt.Errorf("source %q is reserved for the settlement matcher", raw)
	}
	return source, nil
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	kind := msg.Attributes[kindAttribute]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"kind":       kind,
	})

	switch kind {
	case eventOrderSettled, eventOrderRefunded, eventOrderDisputed, eventOrderReleased:
	default:
		c.logg.Info(logCtx, "skipping event not handled by accrual")
		return processResult{ack: true}
	}

	var event orderEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logg.Error(logCtx, "failed to unmarshal order event", err)
		return processResult{ack: true}
	}

	vendorID, err := uuid.Parse(event.VendorID)
	if err != nil {
		c.logg.Error(logCtx, "order event carries invalid vendor id", err)
		return processResult{ack: true}
	}
	if event.OrderID == "" {
		c.logg.Error(logCtx, "order event missing order id", fmt.Errorf("empty order_id"))
		return processResult{ack: true}
	}

	logCtx = c.logg.WithVendorID(logCtx, vendorID.String())
	logCtx = c.logg.WithFields(logCtx, map[string]any{"order_id": event.OrderID})

	source, err := eventSource(event.Source)
	if err != nil {
		c.logg.Error(logCtx, "order event carries invalid source", err)
		return processResult{ack: true}
	}

	input := ledger.RecordEntryInput{
		VendorID:     vendorID,
		AmountMinor:  event.AmountMinor,
		Source:       source,
		Currency:     enums.Currency(strings.ToUpper(event.Currency)),
		OrderRefKind: "order",
		OrderRefID:   event.OrderID,
		CreatedBy:    consumerActor,
	}

	var entry *models.LedgerEntry
	switch kind {
	case eventOrderSettled:
		input.Note = "order settled"
		entry, err = c.writer.RecordCredit(logCtx, input)
	case eventOrderRefunded:
		input.Note = "order refunded"
		entry, err = c.writer.RecordRefund(logCtx, input)
	case eventOrderDisputed:
		input.Note = "order disputed"
		entry, err = c.writer.RecordHold(logCtx, input)
	case eventOrderReleased:
		input.Note = "dispute released"
		entry, err = c.writer.ReleaseHold(logCtx, input)
	}
	if err != nil {
		return c.handleWriteError(logCtx, err)
	}
	if entry == nil {
		c.logg.Info(logCtx, "order event already recorded")
		return processResult{ack: true}
	}

	c.logg.Info(logCtx, fmt.Sprintf("recorded %s entry of %d minor units", entry.Type, entry.AmountMinor))
	return processResult{ack: true}
}

// handleWriteError acks poison events and nacks everything that might
// succeed on redelivery.
func (c *Consumer) handleWriteError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "failed to record ledger entry", err)

	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Code() {
		case pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
			return processResult{ack: true}
		}
	}
	return processResult{nack: true}
}
