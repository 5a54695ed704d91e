package reaper

import "github.com/prometheus/client_golang/prometheus"

var (
	scopesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrd", Subsystem: "reaper", Name: "scopes_open",
		Help: "Job cleanup scopes not yet closed",
	})
	pathsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocrd", Subsystem: "reaper", Name: "paths_removed_total",
		Help: "Temporary paths removed at job end",
	})
	cleanupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocrd", Subsystem: "reaper", Name: "cleanup_failures_total",
		Help: "Temporary paths that could not be removed",
	})
	archivesSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocrd", Subsystem: "reaper", Name: "archives_swept_total",
		Help: "Expired archives deleted by the sweeper",
	})
)

func init() {
	prometheus.MustRegister(scopesOpen, pathsRemoved, cleanupFailures, archivesSwept)
}
