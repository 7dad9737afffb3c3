package accrual

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stallfront/stallfront-backend/internal/ledger"
	"github.com/stallfront/stallfront-backend/pkg/db/models"
	"github.com/stallfront/stallfront-backend/pkg/enums"
	pkgerrors "github.com/stallfront/stallfront-backend/pkg/errors"
	"github.com/stallfront/stallfront-backend/pkg/logger"
)

type stubWriter struct {
	credits  []ledger.RecordEntryInput
	refunds  []ledger.RecordEntryInput
	holds    []ledger.RecordEntryInput
	releases []ledger.RecordEntryInput
	err      error
	dedup    bool
}

func (s *stubWriter) record(calls *[]ledger.RecordEntryInput, input ledger.RecordEntryInput, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	*calls = append(*calls, input)
	if s.err != nil {
		return nil, s.err
	}
	if s.dedup {
		return nil, nil
	}
	return &models.LedgerEntry{
		ID:          uuid.New(),
		VendorID:    input.VendorID,
		Type:        entryType,
		AmountMinor: input.AmountMinor,
	}, nil
}

func (s *stubWriter) RecordCredit(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error) {
	return s.record(&s.credits, input, enums.LedgerEntryTypeCreditEligible)
}

func (s *stubWriter) RecordRefund(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error) {
	return s.record(&s.refunds, input, enums.LedgerEntryTypeDebitRefund)
}

func (s *stubWriter) RecordHold(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error) {
	return s.record(&s.holds, input, enums.LedgerEntryTypeDebitHold)
}

func (s *stubWriter) ReleaseHold(ctx context.Context, input ledger.RecordEntryInput) (*models.LedgerEntry, error) {
	return s.record(&s.releases, input, enums.LedgerEntryTypeCreditRelease)
}

func newTestConsumer(t *testing.T, writer *stubWriter) *Consumer {
	t.Helper()

	sub := &pubsub.Subscriber{}
	logg := logger.New(logger.Options{ServiceName: "accrual-test", Level: zerolog.Disabled})
	consumer, err := NewConsumer(writer, sub, logg)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return consumer
}

func buildMessage(kind string, event orderEvent) *pubsub.Message {
	data, _ := json.Marshal(event)
	return &pubsub.Message{
		ID:         "msg-1",
		Attributes: map[string]string{kindAttribute: kind},
		Data:       data,
	}
}

func settledEvent(vendorID uuid.UUID) orderEvent {
	return orderEvent{
		EventID:     uuid.NewString(),
		OrderID:     "ord_1001",
		VendorID:    vendorID.String(),
		AmountMinor: 4500,
		Currency:    "usd",
		OccurredAt:  time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestConsumerRecordsSettledOrderAsCredit(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	consumer := newTestConsumer(t, writer)
	vendorID := uuid.New()

	result := consumer.process(context.Background(), buildMessage(eventOrderSettled, settledEvent(vendorID)))
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(writer.credits) != 1 {
		t.Fatalf("credits recorded = %d", len(writer.credits))
	}

	input := writer.credits[0]
	if input.VendorID != vendorID || input.AmountMinor != 4500 {
		t.Fatalf("unexpected input: %+v", input)
	}
	if input.OrderRefID != "ord_1001" || input.OrderRefKind != "order" {
		t.Fatalf("order reference not carried: %+v", input)
	}
	if input.Currency != enums.CurrencyUSD {
		t.Fatalf("currency = %s", input.Currency)
	}
	if input.Source != enums.LedgerSourceEvent {
		t.Fatalf("source = %s", input.Source)
	}
}

func TestConsumerCarriesEventSource(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	consumer := newTestConsumer(t, writer)

	// Store sales stamp their domain on the event.
	storeSale := settledEvent(uuid.New())
	storeSale.Source = "store"
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, storeSale)); !result.ack {
		t.Fatal("expected ack")
	}
	if len(writer.credits) != 1 || writer.credits[0].Source != enums.LedgerSourceStore {
		t.Fatalf("store sale recorded as %+v", writer.credits)
	}

	// An unknown source is poison: acked, never written.
	unknown := settledEvent(uuid.New())
	unknown.Source = "marketplace"
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, unknown)); !result.ack {
		t.Fatal("unknown source must ack")
	}

	// The matcher's own source cannot arrive on an order event.
	reserved := settledEvent(uuid.New())
	reserved.Source = "settlement"
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, reserved)); !result.ack {
		t.Fatal("reserved source must ack")
	}
	if len(writer.credits) != 1 {
		t.Fatalf("poison sources must not write, credits = %d", len(writer.credits))
	}
}

func TestConsumerRoutesEventKinds(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	consumer := newTestConsumer(t, writer)
	vendorID := uuid.New()

	for _, kind := range []string{eventOrderRefunded, eventOrderDisputed, eventOrderReleased} {
		result := consumer.process(context.Background(), buildMessage(kind, settledEvent(vendorID)))
		if !result.ack {
			t.Fatalf("kind %s: expected ack", kind)
		}
	}
	if len(writer.refunds) != 1 || len(writer.holds) != 1 || len(writer.releases) != 1 {
		t.Fatalf("routing off: refunds=%d holds=%d releases=%d",
			len(writer.refunds), len(writer.holds), len(writer.releases))
	}
	if len(writer.credits) != 0 {
		t.Fatalf("no credits expected, got %d", len(writer.credits))
	}
}

func TestConsumerAcksUnknownKind(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	consumer := newTestConsumer(t, writer)

	result := consumer.process(context.Background(), buildMessage("order.shipped", settledEvent(uuid.New())))
	if !result.ack {
		t.Fatal("unknown kinds must ack")
	}
	if len(writer.credits)+len(writer.refunds)+len(writer.holds)+len(writer.releases) != 0 {
		t.Fatal("unknown kinds must not write")
	}
}

func TestConsumerAcksPoisonPayloads(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	consumer := newTestConsumer(t, writer)

	malformed := &pubsub.Message{
		ID:         "msg-2",
		Attributes: map[string]string{kindAttribute: eventOrderSettled},
		Data:       []byte("{not json"),
	}
	if result := consumer.process(context.Background(), malformed); !result.ack {
		t.Fatal("malformed payload must ack")
	}

	badVendor := settledEvent(uuid.New())
	badVendor.VendorID = "not-a-uuid"
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, badVendor)); !result.ack {
		t.Fatal("invalid vendor id must ack")
	}

	noOrder := settledEvent(uuid.New())
	noOrder.OrderID = ""
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, noOrder)); !result.ack {
		t.Fatal("missing order id must ack")
	}
	if len(writer.credits) != 0 {
		t.Fatalf("poison events must not write, got %d", len(writer.credits))
	}
}

func TestConsumerAcksDuplicateEvents(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{dedup: true}
	consumer := newTestConsumer(t, writer)

	result := consumer.process(context.Background(), buildMessage(eventOrderSettled, settledEvent(uuid.New())))
	if !result.ack {
		t.Fatal("duplicate events must ack")
	}
}

func TestConsumerErrorHandling(t *testing.T) {
	t.Parallel()

	// Validation failures are poison and must not redeliver.
	writer := &stubWriter{err: pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")}
	consumer := newTestConsumer(t, writer)
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, settledEvent(uuid.New()))); !result.ack {
		t.Fatal("validation errors must ack")
	}

	// Dependency failures might clear on redelivery.
	writer = &stubWriter{err: errors.New("connection refused")}
	consumer = newTestConsumer(t, writer)
	if result := consumer.process(context.Background(), buildMessage(eventOrderSettled, settledEvent(uuid.New()))); !result.nack {
		t.Fatal("transient errors must nack")
	}
}
