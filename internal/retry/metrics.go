package retry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	published prometheus.Counter
	failed    prometheus.Counter
	reclaimed prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		published: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "retry",
			Name:      "published_total",
			Help:      "Retry requests published and removed from inflight.",
		}),
		failed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "retry",
			Name:      "failed_total",
			Help:      "Retry requests left inflight after a failed chunk publish.",
		}),
		reclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "retry",
			Name:      "reclaimed_total",
			Help:      "Stale inflight retry requests moved back to due.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
