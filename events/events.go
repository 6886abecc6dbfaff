package events

import (
	"context"
	"sync"

	"satsledger/models"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChange          EventType = "balance_change"
	EventTypeTransactionStateChange EventType = "transaction_state_change"
	EventTypeAdminActionRecorded    EventType = "admin_action_recorded"
)

// AllEventTypes lists every event type the ledger emits
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeBalanceChange,
		EventTypeTransactionStateChange,
		EventTypeAdminActionRecorded,
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BalanceChangeEvent represents a committed change to a wallet's balance
type BalanceChangeEvent struct {
	WalletID      string                 `json:"wallet_id"`
	UserID        string                 `json:"user_id"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	OldBalance    models.Sats            `json:"old_balance_sats"`
	NewBalance    models.Sats            `json:"new_balance_sats"`
	ChangeAmount  models.Sats            `json:"change_amount_sats"`
	TxType        models.TransactionType `json:"transaction_type,omitempty"`
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// TransactionStateChangeEvent is emitted when a transaction is created or leaves PENDING.
// OldStatus is empty for a newly created transaction.
type TransactionStateChangeEvent struct {
	TransactionID string                   `json:"transaction_id"`
	WalletID      string                   `json:"wallet_id"`
	TxType        models.TransactionType   `json:"transaction_type"`
	OldStatus     models.TransactionStatus `json:"old_status,omitempty"`
	NewStatus     models.TransactionStatus `json:"new_status"`
	AmountSats    models.Sats              `json:"amount_sats"`
}

func (e TransactionStateChangeEvent) Type() EventType {
	return EventTypeTransactionStateChange
}

// AdminActionRecordedEvent carries a committed audit entry to notifiers
type AdminActionRecordedEvent struct {
	Action models.AdminAction `json:"action"`
}

func (e AdminActionRecordedEvent) Type() EventType {
	return EventTypeAdminActionRecorded
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// running handler count and the Wait callers to release when it reaches zero
	inflight int
	idle     []chan struct{}
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type on main event bus")
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers on main event bus")

	// Handlers run asynchronously so a slow notifier never holds up a ledger call
	b.track(len(handlers))
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer b.track(-1)
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

func (b *Bus) track(delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inflight += delta
	if b.inflight == 0 {
		for _, w := range b.idle {
			close(w)
		}
		b.idle = nil
	}
}

// Wait blocks until every handler started by Emit has returned, or ctx is done
func (b *Bus) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.inflight == 0 {
		b.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	b.idle = append(b.idle, done)
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TransactionalBus holds events raised inside a unit of work until it commits.
// Flushes to the underlying event bus.
type TransactionalBus struct {
	real    *Bus
	pending []Event // stashed until Flush
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	log.WithFields(log.Fields{
		"eventType":    e.Type(),
		"pendingCount": len(b.pending),
	}).Debug("Adding event to transactional bus pending queue")
	b.pending = append(b.pending, e)
}

// Pending returns the events held so far
func (b *TransactionalBus) Pending() []Event {
	return b.pending
}

// called after successful DB commit
func (b *TransactionalBus) Flush(ctx context.Context) error {
	log.WithFields(log.Fields{
		"pendingEventCount": len(b.pending),
	}).Debug("Flushing pending events from transactional bus to main event bus")

	// Events outlive the request, so they must not inherit its cancellation
	eventCtx := context.WithoutCancel(ctx)

	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
	return nil
}

// called after db rollback or to clear state.
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
