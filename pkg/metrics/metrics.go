package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_intents_total",
		Help: "The total number of intents that reached submission, by outcome",
	}, []string{"action", "outcome"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_rejections_total",
		Help: "Total number of rejected intents by error kind",
	}, []string{"kind"})

	SubmissionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_submission_errors_total",
		Help: "Total number of ledger submission errors by type",
	}, []string{"error_type"})

	SettlementTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayer_settlement_seconds",
		Help:    "Time taken from submission to settlement",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // Start at 250ms with 10 buckets doubling in size
	}, []string{"action"})

	ReservedNonces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_reserved_nonces",
		Help: "The number of intent nonces currently retained by the replay guard",
	})

	RelayerBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_balance",
		Help: "Relayer account balance in native units, refreshed on status queries",
	})

	CircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_circuit_open",
		Help: "1 when the submission circuit breaker is open",
	})
)
