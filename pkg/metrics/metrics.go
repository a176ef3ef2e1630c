package metrics

import (
	"time"

	"go.uber.org/multierr"
)

// Exporter defines the interface for cache metrics exporters
// This abstraction allows supporting multiple observability systems
type Exporter interface {
	// ExportStats exports the current cache statistics
	ExportStats(stats Stats, labels Labels) error

	// RecordOperation records one cache operation with its result and timing
	RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error

	// IncrementCounter increments a named counter with labels
	IncrementCounter(name string, labels Labels) error

	// RecordHistogram records a value in a named histogram
	RecordHistogram(name string, value float64, labels Labels) error

	// SetGauge sets a gauge value
	SetGauge(name string, value float64, labels Labels) error

	// Close shuts down the exporter and flushes any pending metrics
	Close() error
}

// Labels represents key-value pairs for metric labels/tags
type Labels map[string]string

// Stats interface defines the cache statistics that can be exported.
// Counters are cumulative; exporters translate them into deltas.
type Stats interface {
	Loads() int64
	Rejections() int64
	Takeovers() int64
	Releases() int64
	Autosaves() int64
	SaveFailures() int64
	Conflicts() int64
	Wipes() int64
	Kicks() int64
	Deferrals() int64
	StoreReads() int64
	StoreWrites() int64
	Admitted() int64
}

// Operation represents different cache operations for metrics
type Operation string

const (
	// Session lifecycle
	OperationLoad     Operation = "load"
	OperationSave     Operation = "save"
	OperationAutosave Operation = "autosave"
	OperationKick     Operation = "kick"

	// Direct store access
	OperationWipe     Operation = "wipe"
	OperationGetData  Operation = "get_data"
	OperationSaveData Operation = "save_data"
)

// Result represents the result of a cache operation
type Result string

const (
	ResultSuccess  Result = "success"
	ResultError    Result = "error"
	ResultRejected Result = "rejected"
)

// MetricNames defines standard metric names used across exporters
type MetricNames struct {
	// Counters
	LoadsTotal        string
	RejectionsTotal   string
	TakeoversTotal    string
	ReleasesTotal     string
	AutosavesTotal    string
	SaveFailuresTotal string
	ConflictsTotal    string
	WipesTotal        string
	KicksTotal        string
	DeferralsTotal    string
	StoreReadsTotal   string
	StoreWritesTotal  string
	OperationsTotal   string

	// Histograms
	OperationDuration string

	// Gauges
	AdmittedEntities string
}

// DefaultMetricNames returns the default metric names with proper namespacing
func DefaultMetricNames() MetricNames {
	return MetricNames{
		LoadsTotal:        "datacache_loads_total",
		RejectionsTotal:   "datacache_rejections_total",
		TakeoversTotal:    "datacache_takeovers_total",
		ReleasesTotal:     "datacache_releases_total",
		AutosavesTotal:    "datacache_autosaves_total",
		SaveFailuresTotal: "datacache_save_failures_total",
		ConflictsTotal:    "datacache_conflicts_total",
		WipesTotal:        "datacache_wipes_total",
		KicksTotal:        "datacache_kicks_total",
		DeferralsTotal:    "datacache_deferrals_total",
		StoreReadsTotal:   "datacache_store_reads_total",
		StoreWritesTotal:  "datacache_store_writes_total",
		OperationsTotal:   "datacache_operations_total",
		OperationDuration: "datacache_operation_duration_seconds",
		AdmittedEntities:  "datacache_admitted_entities",
	}
}

// Config holds configuration for metrics exporters
type Config struct {
	// Enabled determines whether metrics collection is enabled
	Enabled bool

	// Namespace is prepended to all metric names
	Namespace string

	// Labels are default labels applied to all metrics
	Labels Labels

	// MetricNames allows customizing metric names
	MetricNames MetricNames

	// ReportingInterval determines how often to export stats (for push-based systems)
	ReportingInterval time.Duration

	// IncludeDetailedTimings enables the operation duration histogram
	IncludeDetailedTimings bool
}

// NewDefaultConfig creates a default metrics configuration
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:                true,
		Namespace:              "datacache",
		Labels:                 make(Labels),
		MetricNames:            DefaultMetricNames(),
		ReportingInterval:      30 * time.Second,
		IncludeDetailedTimings: false,
	}
}

// WithNamespace sets the metrics namespace
func (c *Config) WithNamespace(namespace string) *Config {
	c.Namespace = namespace
	return c
}

// WithLabels adds default labels to all metrics
func (c *Config) WithLabels(labels Labels) *Config {
	for k, v := range labels {
		c.Labels[k] = v
	}
	return c
}

// WithReportingInterval sets the reporting interval for push-based systems
func (c *Config) WithReportingInterval(interval time.Duration) *Config {
	c.ReportingInterval = interval
	return c
}

// WithDetailedTimings enables detailed operation timing metrics
func (c *Config) WithDetailedTimings(enabled bool) *Config {
	c.IncludeDetailedTimings = enabled
	return c
}

// MultiExporter allows using multiple exporters simultaneously. Every
// exporter is called even when an earlier one fails; the errors are combined.
type MultiExporter struct {
	exporters []Exporter
}

// NewMultiExporter creates an exporter that writes to multiple backends
func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{
		exporters: exporters,
	}
}

// ExportStats exports to all configured exporters
func (m *MultiExporter) ExportStats(stats Stats, labels Labels) error {
	var err error
	for _, exporter := range m.exporters {
		err = multierr.Append(err, exporter.ExportStats(stats, labels))
	}
	return err
}

// RecordOperation records to all configured exporters
func (m *MultiExporter) RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error {
	var err error
	for _, exporter := range m.exporters {
		err = multierr.Append(err, exporter.RecordOperation(operation, result, duration, labels))
	}
	return err
}

// IncrementCounter increments on all configured exporters
func (m *MultiExporter) IncrementCounter(name string, labels Labels) error {
	var err error
	for _, exporter := range m.exporters {
		err = multierr.Append(err, exporter.IncrementCounter(name, labels))
	}
	return err
}

// RecordHistogram records to all configured exporters
func (m *MultiExporter) RecordHistogram(name string, value float64, labels Labels) error {
	var err error
	for _, exporter := range m.exporters {
		err = multierr.Append(err, exporter.RecordHistogram(name, value, labels))
	}
	return err
}

// SetGauge sets on all configured exporters
func (m *MultiExporter) SetGauge(name string, value float64, labels Labels) error {
	var err error
	for _, exporter := range m.exporters {
		err = multierr.Append(err, exporter.SetGauge(name, value, labels))
	}
	return err
}

// Close closes all configured exporters
func (m *MultiExporter) Close() error {
	var err error
	for _, exporter := range m.exporters {
		err = multierr.Append(err, exporter.Close())
	}
	return err
}

// NoOpExporter provides a no-op implementation for when metrics are disabled
type NoOpExporter struct{}

// NewNoOpExporter creates a no-op exporter
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

// ExportStats does nothing
func (n *NoOpExporter) ExportStats(Stats, Labels) error { return nil }

// RecordOperation does nothing
func (n *NoOpExporter) RecordOperation(Operation, Result, time.Duration, Labels) error { return nil }

// IncrementCounter does nothing
func (n *NoOpExporter) IncrementCounter(string, Labels) error { return nil }

// RecordHistogram does nothing
func (n *NoOpExporter) RecordHistogram(string, float64, Labels) error { return nil }

// SetGauge does nothing
func (n *NoOpExporter) SetGauge(string, float64, Labels) error { return nil }

// Close does nothing
func (n *NoOpExporter) Close() error { return nil }

// counterDeltas remembers the last exported value of each cumulative
// counter per label set
type counterDeltas struct {
	last map[string]map[string]int64
}

func newCounterDeltas() *counterDeltas {
	return &counterDeltas{last: make(map[string]map[string]int64)}
}

// delta returns how much counter grew since the previous call for series.
// A counter that went backwards (after Stats.Reset) restarts from zero.
func (d *counterDeltas) delta(series, counter string, value int64) int64 {
	prev, ok := d.last[series]
	if !ok {
		prev = make(map[string]int64)
		d.last[series] = prev
	}
	old := prev[counter]
	prev[counter] = value
	if value < old {
		return value
	}
	return value - old
}

// statCounters pairs each metric name with its Stats getter
func statCounters(names MetricNames, stats Stats) []struct {
	name  string
	value int64
} {
	return []struct {
		name  string
		value int64
	}{
		{names.LoadsTotal, stats.Loads()},
		{names.RejectionsTotal, stats.Rejections()},
		{names.TakeoversTotal, stats.Takeovers()},
		{names.ReleasesTotal, stats.Releases()},
		{names.AutosavesTotal, stats.Autosaves()},
		{names.SaveFailuresTotal, stats.SaveFailures()},
		{names.ConflictsTotal, stats.Conflicts()},
		{names.WipesTotal, stats.Wipes()},
		{names.KicksTotal, stats.Kicks()},
		{names.DeferralsTotal, stats.Deferrals()},
		{names.StoreReadsTotal, stats.StoreReads()},
		{names.StoreWritesTotal, stats.StoreWrites()},
	}
}

// Ensure interfaces are implemented
var (
	_ Exporter = (*MultiExporter)(nil)
	_ Exporter = (*NoOpExporter)(nil)
)
