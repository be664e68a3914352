package backtest

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for backtest runs.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec // labels: status
	RunDuration   prometheus.Histogram
	RunsInFlight  prometheus.Gauge
	BarsProcessed prometheus.Counter
	OrdersTotal   *prometheus.CounterVec // labels: status
	TradesTotal   *prometheus.CounterVec // labels: outcome=won|lost
	EventsTotal   *prometheus.CounterVec // labels: kind

	registry *prometheus.Registry
}

// NewMetrics registers all collectors on a fresh registry so several
// services can coexist in one process (tests).
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_runs_total",
			Help: "Finished backtest runs by status",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradesim_run_duration_seconds",
			Help:    "Wall time of a backtest run including data loading",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_runs_in_flight",
			Help: "Backtest runs currently executing",
		}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_bars_processed_total",
			Help: "Bars replayed across all runs",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_orders_total",
			Help: "Orders by terminal status",
		}, []string{"status"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_trades_total",
			Help: "Closed trades by outcome",
		}, []string{"outcome"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_events_total",
			Help: "Run events by kind",
		}, []string{"kind"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunsInFlight,
		m.BarsProcessed,
		m.OrdersTotal,
		m.TradesTotal,
		m.EventsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveResult 汇总一次成功运行的计数。
func (m *Metrics) ObserveResult(res *Result) {
	if m == nil || res == nil {
		return
	}
	m.BarsProcessed.Add(float64(res.Report.Bars))
	for _, o := range res.Orders {
		m.OrdersTotal.WithLabelValues(o.Status().String()).Inc()
	}
	for _, t := range res.Trades {
		outcome := "lost"
		if t.NetPnL > 0 {
			outcome = "won"
		}
		m.TradesTotal.WithLabelValues(outcome).Inc()
	}
	for _, ev := range res.Events {
		m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	}
}

func (m *Metrics) runStarted() func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.RunsInFlight.Inc()
	return func(status string) {
		m.RunsInFlight.Dec()
		m.RunDuration.Observe(time.Since(start).Seconds())
		m.RunsTotal.WithLabelValues(status).Inc()
	}
}
