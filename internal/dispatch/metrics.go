package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// recordsTotal counts terminal records by status and reason. Reasons come
	// from the closed issue set plus error kinds, which keeps cardinality small.
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acorn_dispatch_records_total",
			Help: "Terminal dispatch records by status and reason.",
		},
		[]string{"status", "reason"},
	)

	// sendDuration observes each live sender call.
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acorn_dispatch_send_duration_seconds",
			Help:    "Duration of sender calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// lastRun is the unix time of the last completed batch.
	lastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "acorn_dispatch_last_run_timestamp_seconds",
			Help: "Unix time the last dispatch batch completed.",
		},
	)
)

func init() {
	prometheus.MustRegister(recordsTotal, sendDuration, lastRun)
}

// WriteMetricsTextfile writes every registered collector to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteMetricsTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
