package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports engine counters and stage latencies under the
// "paywire" namespace.
type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

func NewPrometheusRecorder() Recorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywire",
			Name:      "events_total",
			Help:      "payment engine event counters",
		},
		[]string{"type", "stage", "network"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paywire",
			Name:      "stage_latency_seconds",
			Help:      "payment pipeline stage latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "network"},
	)

	prometheus.MustRegister(counters, histogram)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":    name,
		"stage":   labels["stage"],
		"network": labels["network"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"stage":   name,
		"network": labels["network"],
	}).Observe(d.Seconds())
}
