package metrics

import (
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestOpenTelemetryExporterRequiresMeter(t *testing.T) {
	if _, err := NewOpenTelemetryExporter(nil, nil); err == nil {
		t.Fatal("Expected error without configuration")
	}
	if _, err := NewOpenTelemetryExporter(nil, &OpenTelemetryConfig{}); err == nil {
		t.Fatal("Expected error without meter")
	}
}

func TestOpenTelemetryExporter(t *testing.T) {
	exporter, err := NewOpenTelemetryExporter(NewDefaultConfig().WithDetailedTimings(true), &OpenTelemetryConfig{
		Meter:             noop.NewMeterProvider().Meter("datacache-test"),
		DefaultAttributes: []attribute.KeyValue{attribute.String("service", "game")},
	})
	if err != nil {
		t.Fatalf("Failed to create exporter: %v", err)
	}

	labels := Labels{"cache_name": "PlayerData"}
	stats := &fakeStats{loads: 2, admitted: 1}
	if err := exporter.ExportStats(stats, labels); err != nil {
		t.Fatalf("ExportStats failed: %v", err)
	}
	if got := exporter.deltas.last["PlayerData"][DefaultMetricNames().LoadsTotal]; got != 2 {
		t.Fatalf("Expected last exported loads 2, got %d", got)
	}

	if err := exporter.RecordOperation(OperationSave, ResultError, time.Millisecond, labels); err != nil {
		t.Fatalf("RecordOperation failed: %v", err)
	}
	if err := exporter.IncrementCounter("custom_total", labels); err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if err := exporter.SetGauge("custom_gauge", 1, labels); err != nil {
		t.Fatalf("SetGauge failed: %v", err)
	}
	if err := exporter.RecordHistogram("custom_hist", 1, labels); err != nil {
		t.Fatalf("RecordHistogram failed: %v", err)
	}
	if len(exporter.customCounters) != 1 || len(exporter.customGauges) != 1 || len(exporter.customHistograms) != 1 {
		t.Fatal("Expected custom instruments to be cached")
	}
}

func TestOpenTelemetryLabelMerge(t *testing.T) {
	exporter, err := NewOpenTelemetryExporter(NewDefaultConfig().WithLabels(Labels{"region": "eu"}), &OpenTelemetryConfig{
		Meter:             noop.NewMeterProvider().Meter("datacache-test"),
		DefaultAttributes: []attribute.KeyValue{attribute.String("service", "game")},
	})
	if err != nil {
		t.Fatalf("Failed to create exporter: %v", err)
	}

	attrs := exporter.convertLabels(Labels{"cache_name": "PlayerData", "region": "us"})
	got := make(map[string]string)
	for _, kv := range attrs {
		if _, dup := got[string(kv.Key)]; dup {
			t.Fatalf("Duplicate attribute %s", kv.Key)
		}
		got[string(kv.Key)] = kv.Value.Emit()
	}

	want := map[string]string{"cache_name": "PlayerData", "region": "us", "service": "game"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Expected %s=%s, got %q", k, v, got[k])
		}
	}
}
