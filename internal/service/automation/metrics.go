package automation

import "github.com/prometheus/client_golang/prometheus"

var (
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnicrm_automation_dispatches_total",
			Help: "Total automation webhook dispatches by terminal outcome.",
		},
		[]string{"outcome"},
	)
	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omnicrm_automation_dispatch_duration_seconds",
			Help:    "Duration of a single automation dispatch including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	dispatchAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnicrm_automation_dispatch_attempts_total",
			Help: "Total HTTP attempts against workflow-engine webhooks.",
		},
	)
)

func init() {
	prometheus.MustRegister(dispatchesTotal, dispatchDuration, dispatchAttempts)
}
