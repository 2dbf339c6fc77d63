package game

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the simulation's prometheus collectors. All collectors are
// registered on the Registry, which the admin surface serves under /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal   prometheus.Counter
	TickDuration prometheus.Histogram
	TickLag      prometheus.Gauge
	TPS          prometheus.Gauge
	Entities     prometheus.Gauge
	ChunksLoaded prometheus.Gauge
	Sessions     prometheus.Gauge
	Broadcasts   prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_ticks_total",
			Help: "Simulation ticks executed.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strata_tick_duration_seconds",
			Help:    "Wall time spent inside a tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		TickLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_tick_lag_seconds",
			Help: "Delta between scheduled and actual tick start.",
		}),
		TPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_ticks_per_second",
			Help: "Sampled tick rate.",
		}),
		Entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_entities",
			Help: "Entities in the store.",
		}),
		ChunksLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_chunks_loaded",
			Help: "Loaded chunks.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_sessions",
			Help: "Connected sessions.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_broadcasts_total",
			Help: "Chunk deltas broadcast to subscribers.",
		}),
	}
	reg.MustRegister(
		m.TicksTotal, m.TickDuration, m.TickLag, m.TPS,
		m.Entities, m.ChunksLoaded, m.Sessions, m.Broadcasts,
	)
	return m
}
