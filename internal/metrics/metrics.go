package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one engine run. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ticks         prometheus.Counter
	trades        *prometheus.CounterVec
	orderFailures *prometheus.CounterVec
	wallet        prometheus.Gauge
	profit        prometheus.Gauge
}

// New registers the collectors of run on reg.
func New(reg prometheus.Registerer, run string) *Metrics {
	labels := prometheus.Labels{"run": run}
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tickbot_ticks_total",
			Help:        "Ticks processed by the engine.",
			ConstLabels: labels,
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tickbot_trades_total",
			Help:        "Filled trades by side and reason.",
			ConstLabels: labels,
		}, []string{"side", "reason"}),
		orderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tickbot_order_failures_total",
			Help:        "Orders that failed or did not fill.",
			ConstLabels: labels,
		}, []string{"side"}),
		wallet: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tickbot_wallet_size",
			Help:        "Symbols currently held.",
			ConstLabels: labels,
		}),
		profit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tickbot_realised_profit",
			Help:        "Realised profit net of fees.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.ticks, m.trades, m.orderFailures, m.wallet, m.profit)
	return m
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) Trade(side, reason string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(side, reason).Inc()
}

func (m *Metrics) OrderFailed(side string) {
	if m == nil {
		return
	}
	m.orderFailures.WithLabelValues(side).Inc()
}

func (m *Metrics) Wallet(size int, profit float64) {
	if m == nil {
		return
	}
	m.wallet.Set(float64(size))
	m.profit.Set(profit)
}
