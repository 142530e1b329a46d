// Package metrics holds the Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks one engine run.
type EngineMetrics struct {
	PoolsProcessed  *prometheus.CounterVec
	PoolDuration    *prometheus.HistogramVec
	LiveQueryErrors prometheus.Counter
	RunDuration     prometheus.Histogram
	TotalStake      *prometheus.GaugeVec
	EffectiveAPY    *prometheus.GaugeVec
	RecordsEmitted  prometheus.Counter
}

// Register sets up the engine metrics on the given registerer; nil uses the
// default registry.
func Register(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &EngineMetrics{
		PoolsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolbench_pools_processed_total",
				Help: "Pools processed, by provider and terminal status",
			},
			[]string{"provider", "status"},
		),
		PoolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poolbench_pool_duration_seconds",
				Help:    "Per-pool pipeline duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		LiveQueryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "poolbench_livequery_errors_total",
				Help: "Live-query failures that degraded a pool",
			},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poolbench_run_duration_seconds",
				Help:    "Full epoch-run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		TotalStake: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poolbench_total_stake_lamports",
				Help: "Total stake per provider from the latest run",
			},
			[]string{"provider"},
		),
		EffectiveAPY: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poolbench_effective_apy",
				Help: "Effective APY per pool from the latest run",
			},
			[]string{"pool", "provider"},
		),
		RecordsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "poolbench_records_emitted_total",
				Help: "Records successfully emitted to the sink",
			},
		),
	}

	reg.MustRegister(
		m.PoolsProcessed,
		m.PoolDuration,
		m.LiveQueryErrors,
		m.RunDuration,
		m.TotalStake,
		m.EffectiveAPY,
		m.RecordsEmitted,
	)

	return m
}
