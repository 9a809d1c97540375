// Package metrics registers the per-tick and per-rejection Prometheus
// series described in spec §7 "Visibility": metrics count rejections by
// reason, and the hot path never logs, so this is the primary place outside
// the diagnostics ring for operational visibility into a running engine.
// Follows the teacher's internal/metrics registry-and-gauge-struct style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine holds the gauges/counters/histograms shared across all symbol
// engines in one process. One instance is registered per running binary.
type Engine struct {
	ticksProcessed   *prometheus.CounterVec
	tickLatency      *prometheus.HistogramVec
	rejections       *prometheus.CounterVec
	ringOccupancy    *prometheus.GaugeVec
	sinkBackpressure *prometheus.CounterVec
	tradesMatched    *prometheus.CounterVec
}

// NewEngine builds and registers the engine-facing metric series against
// registry. Registration happens once at boot, never on the hot path.
func NewEngine(registry prometheus.Registerer) *Engine {
	m := &Engine{
		ticksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_ticks_processed_total",
			Help: "Ticks processed per symbol.",
		}, []string{"symbol"}),
		tickLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchcore_tick_latency_seconds",
			Help:    "Wall-clock duration of a single tick() invocation.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}, []string{"symbol"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_rejections_total",
			Help: "Admission and cancel rejections by stable reason code.",
		}, []string{"symbol", "reason"}),
		ringOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchcore_ring_occupancy",
			Help: "Approximate inbound ring occupancy, sampled between ticks.",
		}, []string{"symbol"}),
		sinkBackpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_sink_backpressure_total",
			Help: "Dispatcher sink push failures, by sink kind.",
		}, []string{"sink", "kind"}),
		tradesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_trades_matched_total",
			Help: "Trades emitted per symbol.",
		}, []string{"symbol"}),
	}
	registry.MustRegister(
		m.ticksProcessed,
		m.tickLatency,
		m.rejections,
		m.ringOccupancy,
		m.sinkBackpressure,
		m.tradesMatched,
	)
	return m
}

// ObserveTick records one tick's wall-clock duration for symbol.
func (m *Engine) ObserveTick(symbol string, seconds float64) {
	m.ticksProcessed.WithLabelValues(symbol).Inc()
	m.tickLatency.WithLabelValues(symbol).Observe(seconds)
}

// ObserveRejection increments the rejection counter for symbol/reason.
func (m *Engine) ObserveRejection(symbol, reason string) {
	m.rejections.WithLabelValues(symbol, reason).Inc()
}

// ObserveRingOccupancy records the ring's approximate depth for symbol.
func (m *Engine) ObserveRingOccupancy(symbol string, depth int) {
	m.ringOccupancy.WithLabelValues(symbol).Set(float64(depth))
}

// ObserveSinkBackpressure increments the backpressure counter for a given
// sink kind ("lossless", "lossy") and failure kind ("reject", "drop").
func (m *Engine) ObserveSinkBackpressure(sink, kind string) {
	m.sinkBackpressure.WithLabelValues(sink, kind).Inc()
}

// ObserveTrades adds n matched trades for symbol.
func (m *Engine) ObserveTrades(symbol string, n int) {
	if n <= 0 {
		return
	}
	m.tradesMatched.WithLabelValues(symbol).Add(float64(n))
}
