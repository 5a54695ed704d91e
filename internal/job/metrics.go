package job

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Name:      "jobs_total",
			Help:      "Jobs finished by task and outcome",
		},
		[]string{"task", "outcome"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Name:      "job_duration_seconds",
			Help:      "End-to-end job duration",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"task"},
	)
	pagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Name:      "pages_total",
			Help:      "Pages recognized by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, pagesTotal)
}
