// Package telemetry holds the run's Prometheus collectors and tracer.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	namespace  = "promptlint"
	tracerName = "github.com/promptlint/promptlint"
)

// Tracer returns the global tracer. Spans are dropped unless the process
// installs an OpenTelemetry provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Metrics are registered on their own registry so runs never share counters.
// A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	cells            *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	embeddingBatches *prometheus.CounterVec
	runDuration      prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		cells: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "cells_total",
			Help:      "Cells by terminal state and failure kind",
		}, []string{"state", "error_kind"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider calls including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "model", "outcome"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Run cache lookups by result",
		}, []string{"result"}),
		embeddingBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embeddings",
			Name:      "batches_total",
			Help:      "Embedding batches by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of the last run",
		}),
	}
}

// CellFinished counts a cell reaching a terminal state. errorKind is empty on success.
func (m *Metrics) CellFinished(state, errorKind string) {
	if m == nil {
		return
	}
	m.cells.WithLabelValues(state, errorKind).Inc()
}

// ObserveCall records one provider call. outcome is "ok" or an error kind.
func (m *Metrics) ObserveCall(provider, model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider, model, outcome).Observe(d.Seconds())
}

// CacheLookup counts a lookup. result is "hit", "miss" or "shared".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) EmbeddingBatch(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.embeddingBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RunFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}
