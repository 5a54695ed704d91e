package workerpool

import "github.com/prometheus/client_golang/prometheus"

var (
	poolQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "ocrd", Name: "pool_queued", Help: "Tasks waiting for a worker"},
		[]string{"pool"},
	)
	poolBusy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "ocrd", Name: "pool_busy", Help: "Workers currently running a task"},
		[]string{"pool"},
	)
	poolWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Name:      "pool_wait_seconds",
			Help:      "Time tasks spend queued before a worker picks them up",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pool"},
	)
)

func init() {
	prometheus.MustRegister(poolQueued, poolBusy, poolWait)
}
