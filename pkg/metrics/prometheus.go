package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter implements the Exporter interface for Prometheus metrics
type PrometheusExporter struct {
	config   *Config
	registry prometheus.Registerer

	// Counters fed from Stats, keyed by metric name
	statCounters    map[string]*prometheus.CounterVec
	operationsTotal *prometheus.CounterVec

	// Histograms
	operationDuration *prometheus.HistogramVec

	// Gauges
	admitted *prometheus.GaugeVec

	// Custom metrics (for IncrementCounter, etc.)
	customCounters   map[string]*prometheus.CounterVec
	customHistograms map[string]*prometheus.HistogramVec
	customGauges     map[string]*prometheus.GaugeVec
	deltas           *counterDeltas
	mu               sync.Mutex
}

// PrometheusConfig holds Prometheus-specific configuration
type PrometheusConfig struct {
	// Registry is the Prometheus registry to use (optional, uses default if nil)
	Registry prometheus.Registerer

	// DefaultLabels are applied to all metrics
	DefaultLabels prometheus.Labels

	// Buckets for the operation duration histogram
	DurationBuckets []float64
}

// NewPrometheusExporter creates a new Prometheus metrics exporter
func NewPrometheusExporter(config *Config, promConfig *PrometheusConfig) (*PrometheusExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if promConfig == nil {
		promConfig = &PrometheusConfig{}
	}

	registry := promConfig.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	durationBuckets := promConfig.DurationBuckets
	if durationBuckets == nil {
		durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}

	defaultLabels := make(prometheus.Labels)
	for k, v := range promConfig.DefaultLabels {
		defaultLabels[k] = v
	}
	for k, v := range config.Labels {
		defaultLabels[k] = v
	}

	exporter := &PrometheusExporter{
		config:           config,
		registry:         registry,
		statCounters:     make(map[string]*prometheus.CounterVec),
		customCounters:   make(map[string]*prometheus.CounterVec),
		customHistograms: make(map[string]*prometheus.HistogramVec),
		customGauges:     make(map[string]*prometheus.GaugeVec),
		deltas:           newCounterDeltas(),
	}

	if err := exporter.createStandardMetrics(defaultLabels, durationBuckets); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return exporter, nil
}

// createStandardMetrics creates all the standard cache metrics
func (p *PrometheusExporter) createStandardMetrics(defaultLabels prometheus.Labels, durationBuckets []float64) error {
	names := p.config.MetricNames
	baseLabels := []string{"cache_name"}

	counters := []struct{ name, help string }{
		{names.LoadsTotal, "Total number of admitted loads"},
		{names.RejectionsTotal, "Total number of loads rejected by a foreign session"},
		{names.TakeoversTotal, "Total number of stale sessions taken over"},
		{names.ReleasesTotal, "Total number of completed releases"},
		{names.AutosavesTotal, "Total number of completed autosaves"},
		{names.SaveFailuresTotal, "Total number of failed store writes"},
		{names.ConflictsTotal, "Total number of writes refused by the version or session check"},
		{names.WipesTotal, "Total number of wipes"},
		{names.KicksTotal, "Total number of entities kicked"},
		{names.DeferralsTotal, "Total number of postponed evictions"},
		{names.StoreReadsTotal, "Total number of store read calls"},
		{names.StoreWritesTotal, "Total number of store write calls"},
	}
	for _, c := range counters {
		vec, err := p.createCounterVec(c.name, c.help, baseLabels, defaultLabels)
		if err != nil {
			return err
		}
		p.statCounters[c.name] = vec
	}

	var err error
	p.operationsTotal, err = p.createCounterVec(names.OperationsTotal, "Total number of cache operations", []string{"cache_name", "operation", "result"}, defaultLabels)
	if err != nil {
		return err
	}

	if p.config.IncludeDetailedTimings {
		p.operationDuration, err = p.createHistogramVec(names.OperationDuration, "Cache operation duration in seconds", []string{"cache_name", "operation"}, defaultLabels, durationBuckets)
		if err != nil {
			return err
		}
	}

	p.admitted, err = p.createGaugeVec(names.AdmittedEntities, "Current number of admitted entities", baseLabels, defaultLabels)
	return err
}

// ExportStats adds the growth of each counter since the previous export and
// sets the admitted gauge
func (p *PrometheusExporter) ExportStats(stats Stats, labels Labels) error {
	base := prometheus.Labels{"cache_name": labels["cache_name"]}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range statCounters(p.config.MetricNames, stats) {
		if d := p.deltas.delta(base["cache_name"], c.name, c.value); d > 0 {
			p.statCounters[c.name].With(base).Add(float64(d))
		}
	}
	p.admitted.With(base).Set(float64(stats.Admitted()))
	return nil
}

// RecordOperation counts an operation and observes its duration when detailed
// timings are enabled
func (p *PrometheusExporter) RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error {
	cacheName := labels["cache_name"]
	p.operationsTotal.With(prometheus.Labels{
		"cache_name": cacheName,
		"operation":  string(operation),
		"result":     string(result),
	}).Inc()

	if p.operationDuration != nil {
		p.operationDuration.With(prometheus.Labels{
			"cache_name": cacheName,
			"operation":  string(operation),
		}).Observe(duration.Seconds())
	}
	return nil
}

// IncrementCounter increments a custom counter
func (p *PrometheusExporter) IncrementCounter(name string, labels Labels) error {
	p.mu.Lock()
	counter, exists := p.customCounters[name]
	if !exists {
		var err error
		counter, err = p.createCounterVec(name, fmt.Sprintf("Custom counter: %s", name), labelNames(labels), p.constLabels())
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		p.customCounters[name] = counter
	}
	p.mu.Unlock()

	counter.With(prometheus.Labels(labels)).Inc()
	return nil
}

// RecordHistogram records a value in a custom histogram
func (p *PrometheusExporter) RecordHistogram(name string, value float64, labels Labels) error {
	p.mu.Lock()
	histogram, exists := p.customHistograms[name]
	if !exists {
		var err error
		histogram, err = p.createHistogramVec(name, fmt.Sprintf("Custom histogram: %s", name), labelNames(labels), p.constLabels(), prometheus.DefBuckets)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		p.customHistograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(prometheus.Labels(labels)).Observe(value)
	return nil
}

// SetGauge sets a custom gauge value
func (p *PrometheusExporter) SetGauge(name string, value float64, labels Labels) error {
	p.mu.Lock()
	gauge, exists := p.customGauges[name]
	if !exists {
		var err error
		gauge, err = p.createGaugeVec(name, fmt.Sprintf("Custom gauge: %s", name), labelNames(labels), p.constLabels())
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		p.customGauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(prometheus.Labels(labels)).Set(value)
	return nil
}

// Close shuts down the exporter
func (p *PrometheusExporter) Close() error {
	return nil
}

func (p *PrometheusExporter) createCounterVec(name, help string, labelNames []string, defaultLabels prometheus.Labels) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: defaultLabels,
		},
		labelNames,
	)

	if err := p.registry.Register(counter); err != nil {
		return nil, err
	}

	return counter, nil
}

func (p *PrometheusExporter) createHistogramVec(name, help string, labelNames []string, defaultLabels prometheus.Labels, buckets []float64) (*prometheus.HistogramVec, error) {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        name,
			Help:        help,
			ConstLabels: defaultLabels,
			Buckets:     buckets,
		},
		labelNames,
	)

	if err := p.registry.Register(histogram); err != nil {
		return nil, err
	}

	return histogram, nil
}

func (p *PrometheusExporter) createGaugeVec(name, help string, labelNames []string, defaultLabels prometheus.Labels) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: defaultLabels,
		},
		labelNames,
	)

	if err := p.registry.Register(gauge); err != nil {
		return nil, err
	}

	return gauge, nil
}

func (p *PrometheusExporter) constLabels() prometheus.Labels {
	out := make(prometheus.Labels, len(p.config.Labels))
	for k, v := range p.config.Labels {
		out[k] = v
	}
	return out
}

func labelNames(labels Labels) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ensure interface is implemented
var _ Exporter = (*PrometheusExporter)(nil)
