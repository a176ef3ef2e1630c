package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetryExporter implements the Exporter interface for OpenTelemetry metrics
type OpenTelemetryExporter struct {
	config *Config
	meter  metric.Meter
	ctx    context.Context

	// Standard metrics instruments
	statCounters      map[string]metric.Int64Counter
	operationsCounter metric.Int64Counter
	operationDuration metric.Float64Histogram
	admittedGauge     metric.Int64Gauge

	// Custom metrics (for IncrementCounter, etc.)
	customCounters   map[string]metric.Int64Counter
	customHistograms map[string]metric.Float64Histogram
	customGauges     map[string]metric.Float64Gauge
	deltas           *counterDeltas
	mu               sync.Mutex
}

// OpenTelemetryConfig holds OpenTelemetry-specific configuration
type OpenTelemetryConfig struct {
	// Meter is the OpenTelemetry meter to use
	Meter metric.Meter

	// Context is the context to use for metric operations
	Context context.Context

	// DefaultAttributes are applied to all metrics
	DefaultAttributes []attribute.KeyValue
}

// NewOpenTelemetryExporter creates a new OpenTelemetry metrics exporter
func NewOpenTelemetryExporter(config *Config, otelConfig *OpenTelemetryConfig) (*OpenTelemetryExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if otelConfig == nil {
		return nil, fmt.Errorf("OpenTelemetry configuration is required")
	}

	if otelConfig.Meter == nil {
		return nil, fmt.Errorf("OpenTelemetry meter is required")
	}

	ctx := otelConfig.Context
	if ctx == nil {
		ctx = context.Background()
	}

	exporter := &OpenTelemetryExporter{
		config:           config,
		meter:            otelConfig.Meter,
		ctx:              ctx,
		statCounters:     make(map[string]metric.Int64Counter),
		customCounters:   make(map[string]metric.Int64Counter),
		customHistograms: make(map[string]metric.Float64Histogram),
		customGauges:     make(map[string]metric.Float64Gauge),
		deltas:           newCounterDeltas(),
	}
	if len(otelConfig.DefaultAttributes) > 0 {
		exporter.config = withAttributes(config, otelConfig.DefaultAttributes)
	}

	if err := exporter.createStandardMetrics(); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return exporter, nil
}

// withAttributes returns a copy of config whose labels include attrs
func withAttributes(config *Config, attrs []attribute.KeyValue) *Config {
	out := *config
	out.Labels = make(Labels, len(config.Labels)+len(attrs))
	for _, kv := range attrs {
		out.Labels[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range config.Labels {
		out.Labels[k] = v
	}
	return &out
}

// createStandardMetrics creates all the standard cache metrics
func (o *OpenTelemetryExporter) createStandardMetrics() error {
	names := o.config.MetricNames

	for _, name := range []string{
		names.LoadsTotal, names.RejectionsTotal, names.TakeoversTotal,
		names.ReleasesTotal, names.AutosavesTotal, names.SaveFailuresTotal,
		names.ConflictsTotal, names.WipesTotal, names.KicksTotal,
		names.DeferralsTotal, names.StoreReadsTotal, names.StoreWritesTotal,
	} {
		counter, err := o.meter.Int64Counter(name, metric.WithUnit("1"))
		if err != nil {
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		o.statCounters[name] = counter
	}

	var err error
	o.operationsCounter, err = o.meter.Int64Counter(
		names.OperationsTotal,
		metric.WithDescription("Total number of cache operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create operations counter: %w", err)
	}

	if o.config.IncludeDetailedTimings {
		o.operationDuration, err = o.meter.Float64Histogram(
			names.OperationDuration,
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return fmt.Errorf("failed to create operation duration histogram: %w", err)
		}
	}

	o.admittedGauge, err = o.meter.Int64Gauge(
		names.AdmittedEntities,
		metric.WithDescription("Current number of admitted entities"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create admitted gauge: %w", err)
	}

	return nil
}

// ExportStats adds counter growth since the previous export and records the
// admitted gauge
func (o *OpenTelemetryExporter) ExportStats(stats Stats, labels Labels) error {
	attrs := metric.WithAttributes(o.convertLabels(labels)...)
	series := labels["cache_name"]

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range statCounters(o.config.MetricNames, stats) {
		if d := o.deltas.delta(series, c.name, c.value); d > 0 {
			o.statCounters[c.name].Add(o.ctx, d, attrs)
		}
	}
	o.admittedGauge.Record(o.ctx, stats.Admitted(), attrs)
	return nil
}

// RecordOperation records a cache operation with timing
func (o *OpenTelemetryExporter) RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error {
	attrs := o.convertLabels(labels)
	opAttrs := append(attrs, attribute.String("operation", string(operation)))

	o.operationsCounter.Add(o.ctx, 1,
		metric.WithAttributes(append(opAttrs, attribute.String("result", string(result)))...))

	if o.operationDuration != nil {
		o.operationDuration.Record(o.ctx, duration.Seconds(), metric.WithAttributes(opAttrs...))
	}

	return nil
}

// IncrementCounter increments a custom counter
func (o *OpenTelemetryExporter) IncrementCounter(name string, labels Labels) error {
	o.mu.Lock()
	counter, exists := o.customCounters[name]
	if !exists {
		var err error
		counter, err = o.meter.Int64Counter(
			name,
			metric.WithDescription(fmt.Sprintf("Custom counter: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		o.customCounters[name] = counter
	}
	o.mu.Unlock()

	counter.Add(o.ctx, 1, metric.WithAttributes(o.convertLabels(labels)...))
	return nil
}

// RecordHistogram records a value in a custom histogram
func (o *OpenTelemetryExporter) RecordHistogram(name string, value float64, labels Labels) error {
	o.mu.Lock()
	histogram, exists := o.customHistograms[name]
	if !exists {
		var err error
		histogram, err = o.meter.Float64Histogram(
			name,
			metric.WithDescription(fmt.Sprintf("Custom histogram: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		o.customHistograms[name] = histogram
	}
	o.mu.Unlock()

	histogram.Record(o.ctx, value, metric.WithAttributes(o.convertLabels(labels)...))
	return nil
}

// SetGauge sets a custom gauge value
func (o *OpenTelemetryExporter) SetGauge(name string, value float64, labels Labels) error {
	o.mu.Lock()
	gauge, exists := o.customGauges[name]
	if !exists {
		var err error
		gauge, err = o.meter.Float64Gauge(
			name,
			metric.WithDescription(fmt.Sprintf("Custom gauge: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		o.customGauges[name] = gauge
	}
	o.mu.Unlock()

	gauge.Record(o.ctx, value, metric.WithAttributes(o.convertLabels(labels)...))
	return nil
}

// Close shuts down the exporter
func (o *OpenTelemetryExporter) Close() error {
	return nil
}

func (o *OpenTelemetryExporter) convertLabels(labels Labels) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)+len(o.config.Labels))
	for k, v := range o.config.Labels {
		if _, override := labels[k]; override {
			continue
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// Ensure interface is implemented
var _ Exporter = (*OpenTelemetryExporter)(nil)
