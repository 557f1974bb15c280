package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	metricOrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_orders_placed_total",
		Help: "Entry orders handed to the exchange",
	})
	metricEntriesBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_entries_blocked_total",
		Help: "Entries blocked by the risk engine, by code",
	}, []string{"code"})
	metricCloseAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_close_attempts_total",
		Help: "Adaptive close invocations",
	})
	metricCloseOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_close_outcomes_total",
		Help: "Adaptive close terminal codes",
	}, []string{"code"})
	metricHalted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_halted",
		Help: "1 when the bot is halted",
	})
	metricReconcileMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_reconcile_mismatch_total",
		Help: "Startup reconciliations that found a mismatch",
	})
	metricLoopErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_loop_errors_total",
		Help: "Errors observed by the control loop",
	})
)

func init() {
	prometheus.MustRegister(
		metricOrdersPlaced, metricEntriesBlocked, metricCloseAttempts,
		metricCloseOutcomes, metricHalted, metricReconcileMismatch, metricLoopErrors,
	)
}
