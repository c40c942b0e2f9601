// Package metrics holds the Prometheus collectors the bot updates while it
// runs. They are registered in init() and exposed through Handler.
//
//	qqqbot_orders_total{type,side,status}   orders sent to the broker
//	qqqbot_ioc_attempts_total{side}         IOC chase attempts
//	qqqbot_ioc_deviation_aborts_total{side} chases stopped by the deviation cutoff
//	qqqbot_signals_total{signal}            classifications per tick
//	qqqbot_rotations_total{kind}            rotate / flatten / adopt / bank
//	qqqbot_tick_errors_total                ticks abandoned on a transient error
//	qqqbot_equity_usd, _cash_usd, _leftover_usd
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "qqqbot_orders_total", Help: "Orders sent to the broker"},
		[]string{"type", "side", "status"},
	)
	IOCAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "qqqbot_ioc_attempts_total", Help: "IOC chase attempts"},
		[]string{"side"},
	)
	IOCDeviationAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "qqqbot_ioc_deviation_aborts_total", Help: "IOC chases stopped by the deviation cutoff"},
		[]string{"side"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "qqqbot_signals_total", Help: "Signal classifications"},
		[]string{"signal"},
	)
	RotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "qqqbot_rotations_total", Help: "Position changes by kind"},
		[]string{"kind"},
	)
	TickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "qqqbot_tick_errors_total", Help: "Ticks abandoned on a transient error"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "qqqbot_equity_usd", Help: "Equity marked at the last quote"},
	)
	Cash = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "qqqbot_cash_usd", Help: "Available cash"},
	)
	Leftover = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "qqqbot_leftover_usd", Help: "Protected leftover"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersTotal, IOCAttempts, IOCDeviationAborts,
		SignalsTotal, RotationsTotal, TickErrors,
		Equity, Cash, Leftover,
	)
}

// SetCapital updates the capital gauges
func SetCapital(equity, cash, leftover decimal.Decimal) {
	Equity.Set(equity.InexactFloat64())
	Cash.Set(cash.InexactFloat64())
	Leftover.Set(leftover.InexactFloat64())
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
