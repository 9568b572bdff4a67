package outbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	dispatched prometheus.Counter
	failed     *prometheus.CounterVec
	reclaimed  prometheus.Counter
	leaseLost  prometheus.Counter
	cleaned    prometheus.Counter
	backlog    prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		dispatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "outbox",
			Name:      "dispatched_total",
			Help:      "Outbox records published and marked SENT.",
		}),
		failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox records that could not be dispatched, by reason.",
		}, []string{"reason"}),
		reclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "outbox",
			Name:      "reclaimed_total",
			Help:      "PROCESSING records returned to NEW after their lease expired.",
		}),
		leaseLost: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "outbox",
			Name:      "lease_lost_total",
			Help:      "Claimed records another owner held by the time they were confirmed.",
		}),
		cleaned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "outbox",
			Name:      "cleaned_total",
			Help:      "Finished outbox records deleted by the cleaner.",
		}),
		backlog: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "payflow",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Outbox records in status NEW.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
