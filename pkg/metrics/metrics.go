// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cambios_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cambios_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cambios_transactions_total",
			Help: "Exchange transactions by direction and final create outcome.",
		},
		[]string{"direction", "outcome"},
	)

	ChargeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cambios_charge_outcomes_total",
			Help: "Payment rail charge outcomes by method kind and status.",
		},
		[]string{"kind", "status"},
	)

	LimitRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cambios_limit_rejections_total",
			Help: "Exchange requests rejected by the limit ledger.",
		},
	)

	SettlementJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cambios_settlement_jobs_total",
			Help: "Settlement jobs processed by result.",
		},
		[]string{"result"},
	)

	InvoicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cambios_invoices_total",
			Help: "Fiscal documents issued by final status.",
		},
		[]string{"status"},
	)
)

// Init registers every instrument with the default registry. Call once at
// startup.
func Init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(ChargeOutcomesTotal)
	prometheus.MustRegister(LimitRejectionsTotal)
	prometheus.MustRegister(SettlementJobsTotal)
	prometheus.MustRegister(InvoicesTotal)
}
