package consumer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	handled *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		handled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Consumed messages, by topic and result (ok, skipped, error).",
		}, []string{"topic", "result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
