package chainstate

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusChainStateAdvance        prometheus.Histogram
	prometheusChainStateRewind         prometheus.Histogram
	prometheusChainStatePersist        prometheus.Histogram
	prometheusChainStateFailedSteps    prometheus.Counter
	prometheusChainStateHeight         prometheus.Gauge
	prometheusChainStateUtxoCount      prometheus.Gauge
	prometheusChainStateVisitorPanics  prometheus.Counter
	prometheusChainStateSnapshots      prometheus.Counter
	prometheusChainStateBlockFetchWait prometheus.Histogram
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainStateAdvance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "advance",
			Help:      "Histogram of applying one block to the chain state",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStateRewind = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "rewind",
			Help:      "Histogram of rolling one block back from the chain state",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStatePersist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "persist",
			Help:      "Histogram of committing one step to the chain state store",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStateBlockFetchWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "block_fetch_wait",
			Help:      "Histogram of time spent waiting for the next block body",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusChainStateFailedSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "failed_steps",
			Help:      "Number of steps that were rolled back",
		},
	)

	prometheusChainStateVisitorPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "visitor_panics",
			Help:      "Number of visitors dropped after panicking",
		},
	)

	prometheusChainStateSnapshots = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "snapshots",
			Help:      "Number of chain state snapshots published",
		},
	)

	prometheusChainStateHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "height",
			Help:      "Height of the last published chain state",
		},
	)

	prometheusChainStateUtxoCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "builder",
			Name:      "unspent_txs",
			Help:      "Number of transactions with unspent outputs in the last published chain state",
		},
	)
}
