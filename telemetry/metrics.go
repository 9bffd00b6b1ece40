// Package telemetry wraps the prometheus collectors the core exposes:
// round/block counters, finalization depth, shadow divergence counts,
// and emission/fee gauges.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Counter is the narrow counting contract components depend on.
type Counter interface {
	Inc()
	Add(float64)
}

// Gauge is the narrow point-in-time value contract components depend
// on.
type Gauge interface {
	Set(float64)
}

// Metrics owns every prometheus collector the core registers. Registry
// is exposed directly so a deployment can wire it into its own HTTP
// exporter without this package needing to know about transport.
type Metrics struct {
	Registry prometheus.Registerer

	RoundsOpened      prometheus.Counter
	RoundsFinalized   prometheus.Counter
	RoundsSkipped     prometheus.Counter
	BlocksFinalized   prometheus.Counter
	BlocksOrphaned    prometheus.Counter
	ShadowDivergences prometheus.Counter
	ShadowSuspicious  prometheus.Counter
	ValidatorsSlashed prometheus.Counter

	CumulativeSupply prometheus.Gauge
	FeePoolBalance   prometheus.Gauge
	FinalityHeight   prometheus.Gauge
}

// New builds and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registry: reg,
		RoundsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_rounds_opened_total",
			Help: "Total rounds opened.",
		}),
		RoundsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_rounds_finalized_total",
			Help: "Total rounds finalized.",
		}),
		RoundsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_rounds_skipped_total",
			Help: "Total rounds skipped for lack of eligible validators or blocks.",
		}),
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_blocks_finalized_total",
			Help: "Total blocks finalized.",
		}),
		BlocksOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_blocks_orphaned_total",
			Help: "Total blocks orphaned by fork-choice.",
		}),
		ShadowDivergences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_shadow_divergences_total",
			Help: "Total shadow re-execution divergences observed.",
		}),
		ShadowSuspicious: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_shadow_suspicious_total",
			Help: "Total shadow reports disagreeing with their peers' supermajority.",
		}),
		ValidatorsSlashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlc_validators_slashed_total",
			Help: "Total slashing events applied.",
		}),
		CumulativeSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlc_cumulative_supply_atomic",
			Help: "Cumulative emitted supply in atomic units.",
		}),
		FeePoolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlc_fee_pool_balance_atomic",
			Help: "Current epoch fee pool balance in atomic units.",
		}),
		FinalityHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlc_finality_height",
			Help: "Height of the most recently finalized block.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.RoundsOpened, m.RoundsFinalized, m.RoundsSkipped,
		m.BlocksFinalized, m.BlocksOrphaned, m.ShadowDivergences,
		m.ShadowSuspicious, m.ValidatorsSlashed, m.CumulativeSupply,
		m.FeePoolBalance, m.FinalityHeight,
	} {
		_ = reg.Register(c)
	}
	return m
}

// Noop returns a Metrics backed by a fresh, unregistered registry — for
// tests and callers that don't want a real exporter.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
