package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRegistry_Counters(t *testing.T) {
	registry := NewRegistry()
	labels := map[string]string{"pipeline": "recipient"}

	registry.IncrementCounter("receipts_applied_total", labels, "Applied receipts")
	registry.AddToCounter("receipts_applied_total", 2, labels, "Applied receipts")
	registry.IncrementCounter("receipts_applied_total", nil, "Applied receipts")

	counters := registry.GetAllMetrics().Counters

	if got := counters["receipts_applied_total_pipeline:recipient"]; got == nil || got.Value != 3 {
		t.Fatalf("Expected labeled counter value 3, got %+v", got)
	}
	if got := counters["receipts_applied_total"]; got == nil || got.Value != 1 {
		t.Fatalf("Expected unlabeled counter value 1, got %+v", got)
	}
}

func TestRegistry_RecordTimer(t *testing.T) {
	registry := NewRegistry()

	registry.RecordTimer("op", 100*time.Millisecond, nil, "Op")
	registry.RecordTimer("op", 300*time.Millisecond, nil, "Op")
	registry.RecordTimer("op", 200*time.Millisecond, nil, "Op")

	timer := registry.GetAllMetrics().Timers["op"]
	if timer == nil {
		t.Fatal("Expected timer 'op' to exist")
	}
	if timer.Count != 3 || timer.Sum != 600 {
		t.Fatalf("Expected count 3 and sum 600ms, got %d and %f", timer.Count, timer.Sum)
	}
	if timer.Min != 100 || timer.Max != 300 || timer.Average != 200 {
		t.Fatalf("Unexpected min/max/avg: %f/%f/%f", timer.Min, timer.Max, timer.Average)
	}
	if timer.P95 != 0 {
		t.Fatal("Percentiles need at least 10 samples")
	}
}

func TestRegistry_Percentiles(t *testing.T) {
	registry := NewRegistry()

	// Recorded out of order on purpose.
	for _, ms := range []int{100, 10, 90, 20, 80, 30, 70, 40, 60, 50} {
		registry.RecordTimer("p", time.Duration(ms)*time.Millisecond, nil, "")
	}

	timer := registry.GetAllMetrics().Timers["p"]
	if timer.P95 != 100 || timer.P99 != 100 {
		t.Fatalf("Expected p95 and p99 of 100ms, got %f and %f", timer.P95, timer.P99)
	}
}

func TestRegistry_SampleWindowBounded(t *testing.T) {
	registry := NewRegistry()

	for i := 0; i < maxTimerSamples+50; i++ {
		registry.RecordTimer("w", time.Millisecond, nil, "")
	}

	registry.mu.RLock()
	n := len(registry.timers["w"].samples)
	registry.mu.RUnlock()
	if n != maxTimerSamples {
		t.Fatalf("Expected %d samples kept, got %d", maxTimerSamples, n)
	}
}

func TestRegistry_SetGauge(t *testing.T) {
	registry := NewRegistry()

	registry.SetGauge("read_receipts_enabled", 1, nil, "Setting")
	registry.SetGauge("read_receipts_enabled", 0, nil, "Setting")

	gauge := registry.GetAllMetrics().Gauges["read_receipts_enabled"]
	if gauge == nil || gauge.Value != 0 {
		t.Fatalf("Expected gauge value 0, got %+v", gauge)
	}
}

func TestMetricKey_Deterministic(t *testing.T) {
	labels := map[string]string{"type": "webhook", "status": "success", "code": "200"}

	for i := 0; i < 20; i++ {
		if key := metricKey("m", labels); key != "m_code:200_status:success_type:webhook" {
			t.Fatalf("Unexpected metric key: %s", key)
		}
	}
	if key := metricKey("m", nil); key != "m" {
		t.Fatalf("Expected bare name, got %s", key)
	}
}

func TestSnapshot_IsolatedFromRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.IncrementCounter("c", nil, "")

	snap := registry.GetAllMetrics()
	registry.IncrementCounter("c", nil, "")

	if snap.Counters["c"].Value != 1 {
		t.Fatalf("Snapshot changed after registry update: %f", snap.Counters["c"].Value)
	}
	if snap.UptimeMs < 0 || snap.Timestamp == 0 {
		t.Fatal("Expected uptime and timestamp to be set")
	}
}

func TestWritePrometheus(t *testing.T) {
	registry := NewRegistry()
	registry.AddToCounter("receipts_queued_total", 2, map[string]string{"pipeline": "recipient"}, "Queued receipts")
	registry.AddToCounter("receipts_queued_total", 1, map[string]string{"pipeline": "linked_device"}, "Queued receipts")
	registry.SetGauge("early_receipts_waiting", 4, map[string]string{"kind": "recipient"}, "")
	registry.RecordTimer("receipt_operation_duration", 250*time.Millisecond, map[string]string{"operation": "insert"}, "Duration")

	var b strings.Builder
	if err := registry.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}
	out := b.String()

	for _, want := range []string{
		"# HELP receipts_queued_total Queued receipts\n",
		"# TYPE receipts_queued_total counter\n",
		"receipts_queued_total{pipeline=\"linked_device\"} 1\nreceipts_queued_total{pipeline=\"recipient\"} 2\n",
		"# TYPE early_receipts_waiting gauge\n",
		"early_receipts_waiting{kind=\"recipient\"} 4\n",
		"# TYPE receipt_operation_duration_seconds summary\n",
		"receipt_operation_duration_seconds_sum{operation=\"insert\"} 0.25\n",
		"receipt_operation_duration_seconds_count{operation=\"insert\"} 1\n",
		"process_uptime_seconds ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestGlobalRegistry(t *testing.T) {
	IncrementCounter("global_test", nil, "Global test")
	AddToCounter("global_add", 5.0, nil, "Global add test")
	RecordTimer("global_timer", 50*time.Millisecond, nil, "Global timer test")
	SetGauge("global_gauge", 123.45, nil, "Global gauge test")

	snap := GetAllMetrics()
	if _, ok := snap.Counters["global_test"]; !ok {
		t.Fatal("Expected global counter to exist")
	}
	if snap.Counters["global_add"].Value < 5 {
		t.Fatal("Expected global add counter to be at least 5")
	}
	if _, ok := snap.Timers["global_timer"]; !ok {
		t.Fatal("Expected global timer to exist")
	}
	if snap.Gauges["global_gauge"].Value != 123.45 {
		t.Fatal("Expected global gauge value 123.45")
	}
	if GetRegistry() != globalRegistry {
		t.Fatal("Expected GetRegistry to return the global registry")
	}
}

func TestCopyLabels(t *testing.T) {
	original := map[string]string{"key1": "value1"}

	cp := copyLabels(original)
	cp["key2"] = "value2"

	if _, exists := original["key2"]; exists {
		t.Fatal("Modifying copy should not affect original")
	}
	if copyLabels(nil) != nil {
		t.Fatal("Expected nil labels to stay nil")
	}
}
