package payment

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	decisions   *prometheus.CounterVec
	lateResults *prometheus.CounterVec
	skipped     prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "payment",
			Name:      "decisions_total",
			Help:      "Classified PSP outcomes, by decision.",
		}, []string{"decision"}),
		lateResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "payment",
			Name:      "psp_late_results_total",
			Help:      "PSP answers that arrived after the foreground timeout, by PSP status.",
		}, []string{"status"}),
		skipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "payment",
			Name:      "events_skipped_total",
			Help:      "Redelivered or stale events dropped before calling the PSP.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
