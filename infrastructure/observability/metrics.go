package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"satsledger/config"
	"satsledger/models"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics for the ledger.
// Until Initialize succeeds with an exporter, recording is a no-op.
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	mu            sync.RWMutex

	operationsCounter     metric.Int64Counter
	operationDurationHist metric.Float64Histogram
	satsMovedCounter      metric.Int64Counter
	natsPublishedCounter  metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry meter provider and instruments
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	reader, err := mp.newReader(ctx)
	if err != nil {
		return err
	}
	if reader == nil {
		mp.initialized = true
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp.meterProvider)

	if err := mp.createInstruments(mp.meterProvider.Meter(MetricPrefix)); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	log.WithField("exporter", mp.config.OTelExporterType).Info("Metrics provider initialized")
	return nil
}

// newReader builds the periodic reader for the configured exporter; nil means export is off
func (mp *MetricsProvider) newReader(ctx context.Context) (sdkmetric.Reader, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)

	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}

	case "otlp":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	return sdkmetric.NewPeriodicReader(
		exporter,
		sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
	), nil
}

// UseReader wires instruments to a caller-supplied reader, such as sdkmetric.NewManualReader in tests
func (mp *MetricsProvider) UseReader(reader sdkmetric.Reader) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	if err := mp.createInstruments(mp.meterProvider.Meter(MetricPrefix)); err != nil {
		return err
	}
	mp.initialized = true
	return nil
}

func (mp *MetricsProvider) createInstruments(meter metric.Meter) error {
	var err error
	mp.meter = meter

	mp.operationsCounter, err = meter.Int64Counter(
		LedgerOperationsTotal,
		metric.WithDescription("Ledger operations by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create operations counter: %w", err)
	}

	mp.operationDurationHist, err = meter.Float64Histogram(
		LedgerOperationDuration,
		metric.WithDescription("Ledger operation duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	mp.satsMovedCounter, err = meter.Int64Counter(
		LedgerSatsMovedTotal,
		metric.WithDescription("Sats credited, reserved or refunded by committed operations"),
		metric.WithUnit("sat"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sats moved counter: %w", err)
	}

	mp.natsPublishedCounter, err = meter.Int64Counter(
		NATSMessagesPublishedTotal,
		metric.WithDescription("Ledger events forwarded to NATS"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS published counter: %w", err)
	}

	return nil
}

func (mp *MetricsProvider) enabled() bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.meter != nil
}

// RecordOperation counts a ledger operation and its duration
func (mp *MetricsProvider) RecordOperation(ctx context.Context, operation string, outcome string, duration time.Duration) {
	if !mp.enabled() {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(LabelOperation, operation),
		attribute.String(LabelOutcome, outcome),
	)
	mp.operationsCounter.Add(ctx, 1, attrs)
	mp.operationDurationHist.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// RecordSatsMoved adds a committed amount to the sats moved counter
func (mp *MetricsProvider) RecordSatsMoved(ctx context.Context, operation string, amount models.Sats) {
	if !mp.enabled() || amount <= 0 {
		return
	}
	mp.satsMovedCounter.Add(ctx, int64(amount), metric.WithAttributes(attribute.String(LabelOperation, operation)))
}

// RecordEventPublished counts a NATS forwarding attempt
func (mp *MetricsProvider) RecordEventPublished(ctx context.Context, eventType string, err error) {
	if !mp.enabled() {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	mp.natsPublishedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(LabelEventType, eventType),
		attribute.String(LabelResult, result),
	))
}

// Shutdown flushes and stops the meter provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider == nil {
		return nil
	}
	if err := mp.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	mp.meterProvider = nil
	mp.meter = nil
	return nil
}
