package datacache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/datacache-go/pkg/metrics"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// MockExporter for testing metrics integration
type MockExporter struct {
	mu sync.Mutex

	// Captured data
	statsExported    []metrics.Stats
	operationsLogged []mockOperation
	labels           []metrics.Labels

	// Control behavior
	exportStatsError bool
	closed           bool
}

type mockOperation struct {
	operation metrics.Operation
	result    metrics.Result
	duration  time.Duration
	labels    metrics.Labels
}

func NewMockExporter() *MockExporter {
	return &MockExporter{}
}

func (m *MockExporter) ExportStats(stats metrics.Stats, labels metrics.Labels) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exportStatsError {
		return fmt.Errorf("mock export stats error")
	}

	m.statsExported = append(m.statsExported, stats)
	m.labels = append(m.labels, labels)
	return nil
}

func (m *MockExporter) RecordOperation(operation metrics.Operation, result metrics.Result, duration time.Duration, labels metrics.Labels) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operationsLogged = append(m.operationsLogged, mockOperation{
		operation: operation,
		result:    result,
		duration:  duration,
		labels:    labels,
	})
	return nil
}

func (m *MockExporter) IncrementCounter(string, metrics.Labels) error          { return nil }
func (m *MockExporter) RecordHistogram(string, float64, metrics.Labels) error { return nil }
func (m *MockExporter) SetGauge(string, float64, metrics.Labels) error        { return nil }

func (m *MockExporter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockExporter) operations(op metrics.Operation) []mockOperation {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []mockOperation
	for _, o := range m.operationsLogged {
		if o.operation == op {
			out = append(out, o)
		}
	}
	return out
}

func metricsConfig(exporter metrics.Exporter) func(*Config) {
	return func(cfg *Config) {
		cfg.WithMetricsExporter(exporter)
		cfg.Metrics.ReportingInterval = 0
		cfg.Metrics.Labels["region"] = "eu"
	}
}

func TestMetricsRecordOperations(t *testing.T) {
	exporter := NewMockExporter()
	env := newTestEnv(t, "A", nil)
	c := env.cache(t, "PlayerData", metricsConfig(exporter))
	ctx := context.Background()

	env.join(t, c, 1)
	if err := c.Save(ctx, 1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loads := exporter.operations(metrics.OperationLoad)
	if len(loads) != 1 || loads[0].result != metrics.ResultSuccess {
		t.Fatalf("Expected one successful load, got %+v", loads)
	}
	if loads[0].labels["cache_name"] != "PlayerData" || loads[0].labels["region"] != "eu" {
		t.Fatalf("Unexpected labels %v", loads[0].labels)
	}
	if saves := exporter.operations(metrics.OperationSave); len(saves) != 1 || saves[0].result != metrics.ResultSuccess {
		t.Fatalf("Expected one successful save, got %+v", saves)
	}
}

func TestMetricsRecordRejection(t *testing.T) {
	exporter := NewMockExporter()
	env := newTestEnv(t, "A", nil)
	c := env.cache(t, "PlayerData", metricsConfig(exporter))

	r := record.New(record.Data{})
	r.Session = &record.Session{Active: true, Owner: "B", Timestamp: testEpoch.Unix()}
	seedRecord(t, env.store, "Player_1", r)

	env.roster.Join(1)
	if _, err := c.Load(context.Background(), 1, nil); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("Expected ErrSessionLocked, got %v", err)
	}

	loads := exporter.operations(metrics.OperationLoad)
	if len(loads) != 1 || loads[0].result != metrics.ResultRejected {
		t.Fatalf("Expected one rejected load, got %+v", loads)
	}
}

func TestMetricsExportStats(t *testing.T) {
	exporter := NewMockExporter()
	env := newTestEnv(t, "A", nil)
	c := env.cache(t, "PlayerData", metricsConfig(exporter))
	env.join(t, c, 1)

	if err := c.ExportStats(); err != nil {
		t.Fatalf("ExportStats failed: %v", err)
	}

	exporter.mu.Lock()
	if len(exporter.statsExported) != 1 {
		exporter.mu.Unlock()
		t.Fatalf("Expected 1 stats export, got %d", len(exporter.statsExported))
	}
	stats := exporter.statsExported[0]
	labels := exporter.labels[0]
	exporter.mu.Unlock()

	if stats.Loads() != 1 || stats.Admitted() != 1 {
		t.Fatalf("Unexpected exported stats loads=%d admitted=%d", stats.Loads(), stats.Admitted())
	}
	if labels["cache_name"] != "PlayerData" {
		t.Fatalf("Expected cache_name label, got %v", labels)
	}

	exporter.mu.Lock()
	exporter.exportStatsError = true
	exporter.mu.Unlock()
	if err := c.ExportStats(); err == nil {
		t.Fatal("Expected export error to surface")
	}
}

func TestMetricsReporterFlushesOnClose(t *testing.T) {
	exporter := NewMockExporter()
	env := newTestEnv(t, "A", nil)
	c := env.cache(t, "PlayerData", func(cfg *Config) {
		cfg.WithMetricsExporter(exporter)
		cfg.Metrics.ReportingInterval = time.Hour
	})
	env.join(t, c, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	if len(exporter.statsExported) != 1 {
		t.Fatalf("Expected a final stats export on close, got %d", len(exporter.statsExported))
	}
	if !exporter.closed {
		t.Fatal("Expected exporter to be closed")
	}
}

func TestMetricsDisabledUsesNoOp(t *testing.T) {
	env := newTestEnv(t, "A", nil)
	c := env.cache(t, "PlayerData")

	if _, ok := c.metricsExporter.(*metrics.NoOpExporter); !ok {
		t.Fatalf("Expected NoOpExporter, got %T", c.metricsExporter)
	}
	if err := c.ExportStats(); err != nil {
		t.Fatalf("ExportStats on NoOp failed: %v", err)
	}
}
