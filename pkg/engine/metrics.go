package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics updated by the engine and served by the status API at
// /metrics.
var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders submitted, by leg",
		},
		[]string{"leg"},
	)

	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals received from the strategy collaborator",
		},
		[]string{"side"},
	)

	mtxClosedTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_closed_trades_total",
			Help: "Brackets closed, by exit leg",
		},
		[]string{"exit"},
	)

	mtxResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_resets_total",
			Help: "Bundle resets, including failure-path resets",
		},
	)

	mtxTrailUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_trail_updates_total",
			Help: "Take-profit cancel-and-replace round trips",
		},
	)

	mtxLastPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_last_trade_pnl_percent",
			Help: "Percent PnL of the most recently closed bracket",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxOrders,
		mtxSignals,
		mtxClosedTrades,
		mtxResets,
		mtxTrailUpdates,
		mtxLastPnl,
	)
}
