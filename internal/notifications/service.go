package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/pkg/logger"
)

const publishTimeout = 15 * time.Second

// Kind labels the notification payloads this service emits.
type Kind string

const (
	KindPayoutSent     Kind = "payout.sent"
	KindPayoutFailed   Kind = "payout.failed"
	KindPayoutReminder Kind = "payout.reminder"
)

// Event is the message shape published to the notification topic. Consumers
// downstream (email, dashboard feed) fan out from there.
type Event struct {
	Kind        Kind      `json:"kind"`
	VendorID    uuid.UUID `json:"vendor_id"`
	BatchID     string    `json:"batch_id,omitempty"`
	AmountMinor int64     `json:"amount_minor,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	CutoffAt    time.Time `json:"cutoff_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	EmittedAt   time.Time `json:"emitted_at"`
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

// Service publishes payout lifecycle events. A failed publish is logged and
// reported to the caller, who decides whether delivery failure matters; the
// payout paths treat it as best effort, the reminder sweep counts it.
type Service struct {
	pub   publisher
	logg  *logger.Logger
	clock func() time.Time
}

// ServiceParams wires the notification service dependencies.
type ServiceParams struct {
	Publisher *gcppubsub.Publisher
	Logger    *logger.Logger

	// publisherOverride lets tests swap the transport.
	publisherOverride publisher
	Clock             func() time.Time
}

// NewService builds the notification publisher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	pub := params.publisherOverride
	if pub == nil {
		if params.Publisher == nil {
			return nil, fmt.Errorf("publisher required")
		}
		pub = &gcpPublisher{Publisher: params.Publisher}
	}
	if params.Clock == nil {
		params.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{pub: pub, logg: params.Logger, clock: params.Clock}, nil
}

// Send publishes the event and waits for the broker ack. Errors are logged
// here and returned so callers can count undelivered notifications.
func (s *Service) Send(ctx context.Context, event Event) error {
	if event.EmittedAt.IsZero() {
		event.EmittedAt = s.clock()
	}
	ctx = s.logg.WithVendorID(ctx, event.VendorID.String())
	if event.BatchID != "" {
		ctx = s.logg.WithBatchID(ctx, event.BatchID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logg.Error(ctx, "marshal notification event", err)
		return fmt.Errorf("marshal notification event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := s.pub.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"kind": string(event.Kind),
		},
	})
	if result == nil {
		s.logg.Error(ctx, "notification publisher unavailable", nil)
		return fmt.Errorf("notification publisher unavailable")
	}
	if _, err := result.Get(publishCtx); err != nil {
		s.logg.Error(ctx, fmt.Sprintf("publish %s notification", event.Kind), err)
		return fmt.Errorf("publish %s notification: %w", event.Kind, err)
	}
	return nil
}
