// Package metrics exposes simulation counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	Registry *prometheus.Registry

	RoundsTotal          prometheus.Counter
	RoundDurationMs      prometheus.Histogram
	OrdersSubmitted      *prometheus.CounterVec // instrument, side
	OrdersRejected       prometheus.Counter
	OrdersSkipped        prometheus.Counter
	TradesTotal          *prometheus.CounterVec // instrument
	TradedUnits          *prometheus.CounterVec
	TradedNotional       *prometheus.CounterVec
	UnfilledOrders       *prometheus.GaugeVec // instrument, side; left at round end
	ReferencePrice       *prometheus.GaugeVec // instrument
	MarketValue          prometheus.Gauge
	MonthlyInflation     prometheus.Gauge
	DividendsPaidTotal   prometheus.Counter
	TapeWriteErrorsTotal prometheus.Counter
}

// New builds the collectors and registers them, with the Go and process
// collectors, on a private registry.
func New(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		Registry:             prometheus.NewRegistry(),
		RoundsTotal:          prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_rounds_total", Help: "Rounds completed"}),
		RoundDurationMs:      prometheus.NewHistogram(prometheus.HistogramOpts{Name: "sim_round_duration_ms", Help: "Wall time per round", Buckets: prometheus.ExponentialBuckets(0.1, 2, 16)}),
		OrdersSubmitted:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Orders accepted by the book"}, []string{"instrument", "side"}),
		OrdersRejected:       prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_rejected_total", Help: "Orders refused at submission"}),
		OrdersSkipped:        prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_skipped_total", Help: "Sell decisions dropped for lack of inventory"}),
		TradesTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trades_total", Help: "Trades executed"}, []string{"instrument"}),
		TradedUnits:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "traded_units_total", Help: "Units exchanged"}, []string{"instrument"}),
		TradedNotional:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "traded_notional_total", Help: "Cash exchanged"}, []string{"instrument"}),
		UnfilledOrders:       prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "unfilled_orders", Help: "Orders resting when the round closed"}, []string{"instrument", "side"}),
		ReferencePrice:       prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "reference_price", Help: "Reference price after the round"}, []string{"instrument"}),
		MarketValue:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "market_value", Help: "Value of all holdings at reference prices"}),
		MonthlyInflation:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "inflation_monthly", Help: "Monthly inflation drawn for the round"}),
		DividendsPaidTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "dividends_paid_total", Help: "Cash paid out as fund dividends"}),
		TapeWriteErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "tape_write_errors_total", Help: "Failed journal writes"}),
	}

	toRegister := []prometheus.Collector{
		m.RoundsTotal, m.RoundDurationMs, m.OrdersSubmitted, m.OrdersRejected, m.OrdersSkipped,
		m.TradesTotal, m.TradedUnits, m.TradedNotional, m.UnfilledOrders, m.ReferencePrice,
		m.MarketValue, m.MonthlyInflation, m.DividendsPaidTotal, m.TapeWriteErrorsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := m.Registry.Register(c); err != nil {
			logger.Warn("metric registration failed", zap.Error(err))
		}
	}
	logger.Info("prometheus metrics initialized")
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
