package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"satsledger/events"
	"satsledger/models"

	log "github.com/sirupsen/logrus"
)

// MessagePublisher is the part of NATSClient the forwarder depends on
type MessagePublisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

// PublishObserver is told about every forwarding attempt
type PublishObserver interface {
	RecordEventPublished(ctx context.Context, eventType string, err error)
}

// EventEnvelope is the wire shape of a forwarded ledger event
type EventEnvelope struct {
	ID         string           `json:"id"`
	Type       events.EventType `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    events.Event     `json:"payload"`
}

// NATSEventForwarder copies committed bus events onto JetStream subjects.
// It only ever sees events flushed after commit, so nothing rolled back is published.
type NATSEventForwarder struct {
	publisher MessagePublisher
	mapper    *EventSubjectMapper
	observer  PublishObserver
	now       func() time.Time
}

// NewNATSEventForwarder creates a forwarder; observer may be nil
func NewNATSEventForwarder(publisher MessagePublisher, observer PublishObserver) *NATSEventForwarder {
	return &NATSEventForwarder{
		publisher: publisher,
		mapper:    NewEventSubjectMapper(),
		observer:  observer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register subscribes the forwarder to every ledger event type on bus
func (f *NATSEventForwarder) Register(bus *events.Bus) {
	for _, eventType := range events.AllEventTypes() {
		bus.Subscribe(eventType, f.Forward)
	}
	log.Info("NATS event forwarder registered")
}

// Forward publishes one event. Failures are logged and reported, never retried here;
// the ledger state is already committed and stays authoritative. A caller that re-forwards
// the same event reuses its message id, so JetStream stores it once.
func (f *NATSEventForwarder) Forward(ctx context.Context, event events.Event) {
	subject := f.mapper.MapEventToSubject(event)
	envelope := EventEnvelope{
		ID:         MessageID(event),
		Type:       event.Type(),
		OccurredAt: f.now(),
		Payload:    event,
	}

	err := f.publish(ctx, subject, envelope)
	if f.observer != nil {
		f.observer.RecordEventPublished(ctx, string(event.Type()), err)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"subject":   subject,
			"eventType": event.Type(),
			"eventID":   envelope.ID,
		}).WithError(err).Error("Failed to forward ledger event")
	}
}

func (f *NATSEventForwarder) publish(ctx context.Context, subject string, envelope EventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", envelope.Type, err)
	}
	return f.publisher.Publish(ctx, subject, envelope.ID, data)
}

// MessageID derives a stable id from the committed fact an event describes.
// Events that do not identify one get a fresh id and are never deduplicated.
func MessageID(event events.Event) string {
	switch e := event.(type) {
	case events.BalanceChangeEvent:
		if e.TransactionID != "" {
			return fmt.Sprintf("balance:%s:%s:%d", e.WalletID, e.TransactionID, e.ChangeAmount)
		}
	case events.TransactionStateChangeEvent:
		if e.TransactionID != "" {
			return fmt.Sprintf("transaction:%s:%s", e.TransactionID, e.NewStatus)
		}
	case events.AdminActionRecordedEvent:
		if e.Action.ID != "" {
			return "moderation:" + e.Action.ID
		}
	}
	return models.NewID()
}
