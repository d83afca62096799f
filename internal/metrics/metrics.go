// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kestrel"

var (
	once sync.Once

	AnalysisLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "latency_seconds",
			Help:      "Latency of each analysis",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"analysis"},
	)

	AnalysisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "errors_total",
			Help:      "Errors by analysis",
		},
		[]string{"analysis"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "cache_lookups_total",
			Help:      "Analysis cache lookups by result",
		},
		[]string{"result"},
	)

	SurvivalProbability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "survival_probability",
			Help:      "Latest survival probability per company",
		},
		[]string{"tenant", "company"},
	)

	InsolvencyProbability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "insolvency_probability",
			Help:      "Latest insolvency probability per company",
		},
		[]string{"tenant", "company"},
	)

	TransactionsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "transactions_total",
			Help:      "Transactions accepted by ingest",
		},
		[]string{"tenant"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method"},
	)
)

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysisLatency,
			AnalysisErrors,
			CacheLookups,
			SurvivalProbability,
			InsolvencyProbability,
			TransactionsIngested,
			HTTPRequests,
			HTTPDuration,
		)
	})
}

// StatusClass buckets an HTTP status code for labels.
func StatusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
