package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

// maxTimerSamples bounds the window percentiles are computed over
const maxTimerSamples = 1000

// Metric represents a single metric with its metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric stores timing information
type TimerMetric struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	Count       int64             `json:"count"`
	Sum         float64           `json:"sum_ms"`
	Min         float64           `json:"min_ms"`
	Max         float64           `json:"max_ms"`
	Average     float64           `json:"avg_ms"`
	P95         float64           `json:"p95_ms,omitempty"`
	P99         float64           `json:"p99_ms,omitempty"`
	samples     []float64
}

// Snapshot is a point-in-time copy of a registry
type Snapshot struct {
	Counters  map[string]*Metric      `json:"counters"`
	Timers    map[string]*TimerMetric `json:"timers"`
	Gauges    map[string]*Metric      `json:"gauges"`
	UptimeMs  int64                   `json:"uptime_ms"`
	Timestamp int64                   `json:"timestamp"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the process-wide registry
func GetRegistry() *Registry {
	return globalRegistry
}

func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &Metric{
		Name:        name,
		Type:        Counter,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// RecordTimer records a timing measurement in milliseconds
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	durationMs := float64(duration.Nanoseconds()) / 1e6

	timer, exists := r.timers[key]
	if !exists {
		r.timers[key] = &TimerMetric{
			Name:        name,
			Labels:      copyLabels(labels),
			Description: description,
			Count:       1,
			Sum:         durationMs,
			Min:         durationMs,
			Max:         durationMs,
			Average:     durationMs,
			samples:     []float64{durationMs},
		}
		return
	}

	timer.Count++
	timer.Sum += durationMs
	timer.samples = append(timer.samples, durationMs)
	if durationMs < timer.Min {
		timer.Min = durationMs
	}
	if durationMs > timer.Max {
		timer.Max = durationMs
	}
	timer.Average = timer.Sum / float64(timer.Count)

	if len(timer.samples) > maxTimerSamples {
		timer.samples = timer.samples[len(timer.samples)-maxTimerSamples:]
	}
	if len(timer.samples) >= 10 {
		timer.P95 = calculatePercentile(timer.samples, 0.95)
		timer.P99 = calculatePercentile(timer.samples, 0.99)
	}
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[metricKey(name, labels)] = &Metric{
		Name:        name,
		Type:        Gauge,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// GetAllMetrics returns a copy of every metric. The copy is safe to read
// while the registry keeps changing.
func (r *Registry) GetAllMetrics() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Counters:  make(map[string]*Metric, len(r.counters)),
		Timers:    make(map[string]*TimerMetric, len(r.timers)),
		Gauges:    make(map[string]*Metric, len(r.gauges)),
		UptimeMs:  time.Since(r.startTime).Milliseconds(),
		Timestamp: time.Now().Unix(),
	}
	for key, counter := range r.counters {
		c := *counter
		snap.Counters[key] = &c
	}
	for key, timer := range r.timers {
		t := *timer
		t.samples = nil
		snap.Timers[key] = &t
	}
	for key, gauge := range r.gauges {
		g := *gauge
		snap.Gauges[key] = &g
	}
	return snap
}

// WritePrometheus writes the registry in the Prometheus text exposition
// format. Timers are exported as summaries in seconds.
func (r *Registry) WritePrometheus(w io.Writer) error {
	snap := r.GetAllMetrics()
	bw := &errWriter{w: w}

	writeFamily(bw, snap.Counters, "counter")
	writeFamily(bw, snap.Gauges, "gauge")

	byName := make(map[string][]*TimerMetric)
	for _, timer := range snap.Timers {
		byName[timer.Name] = append(byName[timer.Name], timer)
	}
	for _, name := range sortedKeys(byName) {
		timers := byName[name]
		sort.Slice(timers, func(i, j int) bool {
			return formatLabels(timers[i].Labels, "", "") < formatLabels(timers[j].Labels, "", "")
		})
		metric := promName(name) + "_seconds"
		if timers[0].Description != "" {
			bw.printf("# HELP %s %s\n", metric, timers[0].Description)
		}
		bw.printf("# TYPE %s summary\n", metric)
		for _, t := range timers {
			if t.P95 > 0 {
				bw.printf("%s%s %g\n", metric, formatLabels(t.Labels, "quantile", "0.95"), t.P95/1000)
				bw.printf("%s%s %g\n", metric, formatLabels(t.Labels, "quantile", "0.99"), t.P99/1000)
			}
			bw.printf("%s_sum%s %g\n", metric, formatLabels(t.Labels, "", ""), t.Sum/1000)
			bw.printf("%s_count%s %d\n", metric, formatLabels(t.Labels, "", ""), t.Count)
		}
	}

	bw.printf("# TYPE process_uptime_seconds gauge\nprocess_uptime_seconds %g\n", float64(snap.UptimeMs)/1000)
	return bw.err
}

func writeFamily(bw *errWriter, metrics map[string]*Metric, kind string) {
	byName := make(map[string][]*Metric)
	for _, m := range metrics {
		byName[m.Name] = append(byName[m.Name], m)
	}
	for _, name := range sortedKeys(byName) {
		family := byName[name]
		sort.Slice(family, func(i, j int) bool {
			return formatLabels(family[i].Labels, "", "") < formatLabels(family[j].Labels, "", "")
		})
		metric := promName(name)
		if family[0].Description != "" {
			bw.printf("# HELP %s %s\n", metric, family[0].Description)
		}
		bw.printf("# TYPE %s %s\n", metric, kind)
		for _, m := range family {
			bw.printf("%s%s %g\n", metric, formatLabels(m.Labels, "", ""), m.Value)
		}
	}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

func formatLabels(labels map[string]string, extraKey, extraValue string) string {
	if len(labels) == 0 && extraKey == "" {
		return ""
	}
	parts := make([]string, 0, len(labels)+1)
	for _, k := range sortedKeys(labels) {
		parts = append(parts, fmt.Sprintf("%s=%q", promName(k), labels[k]))
	}
	if extraKey != "" {
		parts = append(parts, fmt.Sprintf("%s=%q", extraKey, extraValue))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// metricKey builds a stable key from name and labels sorted by label name
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for _, k := range sortedKeys(labels) {
		fmt.Fprintf(&b, "_%s:%s", k, labels[k])
	}
	return b.String()
}

func calculatePercentile(samples []float64, percentile float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}

	cp := make(map[string]string, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	return cp
}

// Convenience functions for the global registry

func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

func AddToCounter(name string, value float64, labels map[string]string, description string) {
	globalRegistry.AddToCounter(name, value, labels, description)
}

func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

func GetAllMetrics() Snapshot {
	return globalRegistry.GetAllMetrics()
}

func WritePrometheus(w io.Writer) error {
	return globalRegistry.WritePrometheus(w)
}
