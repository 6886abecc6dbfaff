package infrastructure

import (
	"fmt"
	"strings"

	"satsledger/events"
)

// SubjectPrefix roots every subject the ledger publishes
const SubjectPrefix = "ledger"

// EventSubjectMapper maps ledger events to NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject returns the subject an event is published on.
// Transaction state changes are split by new status so consumers can subscribe narrowly.
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	switch e := event.(type) {
	case events.BalanceChangeEvent:
		return SubjectPrefix + ".wallet.balance_changed"
	case events.TransactionStateChangeEvent:
		return fmt.Sprintf("%s.transaction.%s", SubjectPrefix, strings.ToLower(string(e.NewStatus)))
	case events.AdminActionRecordedEvent:
		return SubjectPrefix + ".moderation.recorded"
	default:
		return fmt.Sprintf("%s.unknown.%s", SubjectPrefix, event.Type())
	}
}

