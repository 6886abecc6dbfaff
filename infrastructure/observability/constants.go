package observability

// Metric name prefix
const (
	MetricPrefix = "satsledger"
)

// Metric names
const (
	// Ledger operation metrics
	LedgerOperationsTotal   = MetricPrefix + ".ledger.operations_total"
	LedgerOperationDuration = MetricPrefix + ".ledger.operation_duration"
	LedgerSatsMovedTotal    = MetricPrefix + ".ledger.sats_moved_total"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"
)

// Label keys
const (
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
	LabelEventType = "event_type"
	LabelResult    = "result"
)

// Publish results
const (
	ResultOK    = "ok"
	ResultError = "error"
)
