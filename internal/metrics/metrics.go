// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "graphsync"

// Metrics holds the engine's collectors.
type Metrics struct {
	externalEvents  *prometheus.CounterVec
	ownWrites       prometheus.Counter
	corruptFiles    *prometheus.CounterVec
	writeFailures   *prometheus.CounterVec
	sourceSwitches  *prometheus.CounterVec
	cachedEntities  *prometheus.GaugeVec
	pendingFileWork prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		externalEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_events_total",
			Help:      "External file changes applied to the cache.",
		}, []string{"kind", "action"}),
		ownWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "own_writes_suppressed_total",
			Help:      "Watcher events ignored because graphsync wrote the file.",
		}),
		corruptFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_files_total",
			Help:      "Entity files skipped because they failed to parse or validate.",
		}, []string{"kind", "phase"}),
		writeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_write_failures_total",
			Help:      "Background file writes or deletes that failed.",
		}, []string{"kind", "op"}),
		sourceSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_switches_total",
			Help:      "Data source switches by outcome.",
		}, []string{"result"}),
		cachedEntities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_entities",
			Help:      "Entities in the query cache after the last bulk load.",
		}, []string{"kind"}),
		pendingFileWork: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_file_operations",
			Help:      "Background file writes and deletes not yet finished.",
		}),
	}
}

// ExternalEvent counts an external change applied to the cache.
func (m *Metrics) ExternalEvent(kind, action string) {
	if m == nil {
		return
	}
	m.externalEvents.WithLabelValues(kind, action).Inc()
}

// OwnWriteSuppressed counts a watcher event dropped as self-inflicted.
func (m *Metrics) OwnWriteSuppressed() {
	if m == nil {
		return
	}
	m.ownWrites.Inc()
}

// CorruptFile counts a skipped file. phase is "load" or "watch".
func (m *Metrics) CorruptFile(kind, phase string) {
	if m == nil {
		return
	}
	m.corruptFiles.WithLabelValues(kind, phase).Inc()
}

// WriteFailed counts a failed background file operation. op is "save" or "delete".
func (m *Metrics) WriteFailed(kind, op string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(kind, op).Inc()
}

// SourceSwitch counts a switch outcome: "ok", "rejected", "recovered" or "degraded".
func (m *Metrics) SourceSwitch(result string) {
	if m == nil {
		return
	}
	m.sourceSwitches.WithLabelValues(result).Inc()
}

// SetCached records the cache population for a kind.
func (m *Metrics) SetCached(kind string, n int) {
	if m == nil {
		return
	}
	m.cachedEntities.WithLabelValues(kind).Set(float64(n))
}

// FileWorkStarted and FileWorkDone track in-flight background file operations.
func (m *Metrics) FileWorkStarted() {
	if m == nil {
		return
	}
	m.pendingFileWork.Inc()
}

func (m *Metrics) FileWorkDone() {
	if m == nil {
		return
	}
	m.pendingFileWork.Dec()
}
