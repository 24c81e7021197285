package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the accounting service. Exported through the admin
// API's /metrics endpoint.

// fillsReconciled counts reconciler outcomes by kind.
var fillsReconciled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "fills_reconciled_total",
		Help:      "Order fill snapshots reconciled, by outcome",
	},
	[]string{"result"}, // ignored, duplicate, opened, refreshed, closed
)

// reconcileErrors counts failed reconciliation attempts.
var reconcileErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "reconcile_errors_total",
		Help:      "Reconciliation attempts that failed",
	},
	[]string{"pair"},
)

// tradesOpened counts positions whose entry fill was booked.
var tradesOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "trades_opened_total",
		Help:      "Positions opened, by pair",
	},
	[]string{"pair"},
)

// tradesClosed counts settled positions by close reason.
var tradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "trades_closed_total",
		Help:      "Positions closed, by reason",
	},
	[]string{"reason"},
)

// realizedProfit accumulates realized profit. A gauge because losses
// subtract.
var realizedProfit = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "realized_profit",
		Help:      "Cumulative realized profit in quote currency",
	},
)

// openTrades tracks the number of currently open positions.
var openTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "open_trades",
		Help:      "Number of currently open positions",
	},
)

// unrealizedProfit tracks the mark-to-market result of open positions.
var unrealizedProfit = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "unrealized_profit",
		Help:      "Mark-to-market profit of open positions at the last ticker price",
	},
	[]string{"pair"},
)

// pollDuration observes how long one pending-order poll cycle takes.
var pollDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "marginbot",
		Subsystem: "trading",
		Name:      "order_poll_duration_seconds",
		Help:      "Duration of one pending-order poll cycle",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
)

// notifyFailures counts notifications that could not be delivered.
var notifyFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "marginbot",
		Subsystem: "notifier",
		Name:      "failures_total",
		Help:      "Notifications that could not be delivered",
	},
)

func recordFill(result string) {
	fillsReconciled.WithLabelValues(result).Inc()
}

func recordReconcileError(pair string) {
	reconcileErrors.WithLabelValues(pair).Inc()
}

func recordTradeOpened(pair string) {
	tradesOpened.WithLabelValues(pair).Inc()
}

func recordTradeClosed(reason string, profit float64) {
	tradesClosed.WithLabelValues(reason).Inc()
	realizedProfit.Add(profit)
}

func setOpenTrades(count int) {
	openTrades.Set(float64(count))
}

func setUnrealizedProfit(pair string, profit float64) {
	unrealizedProfit.WithLabelValues(pair).Set(profit)
}

func observePollDuration(d time.Duration) {
	pollDuration.Observe(d.Seconds())
}

func recordNotifyFailure() {
	notifyFailures.Inc()
}
