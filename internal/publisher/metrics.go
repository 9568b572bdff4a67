package publisher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		published: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "publisher",
			Name:      "published_total",
			Help:      "Messages acknowledged by the broker, by publish mode.",
		}, []string{"mode"}),
		failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "publisher",
			Name:      "failed_total",
			Help:      "Failed publishes, by publish mode.",
		}, []string{"mode"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
