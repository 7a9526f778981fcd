package validator

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// prometheusScriptVerifications counts inputs verified by the pool
	prometheusScriptVerifications prometheus.Counter

	// prometheusScriptVerificationFailures counts inputs that failed verification
	prometheusScriptVerificationFailures prometheus.Counter

	prometheusScriptVerify prometheus.Histogram

	// prometheusScriptBatchWait measures how long a block waits for its scripts after the last submit
	prometheusScriptBatchWait prometheus.Histogram
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusScriptVerifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_verifications",
			Help:      "Number of input scripts verified",
		},
	)

	prometheusScriptVerificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_verification_failures",
			Help:      "Number of input scripts that failed verification",
		},
	)

	prometheusScriptVerify = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_verify",
			Help:      "Histogram of input script verification",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusScriptBatchWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_batch_wait",
			Help:      "Histogram of waiting for the scripts of a block to be verified",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)
}
