package model

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	modelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrd",
		Subsystem: "model",
		Name:      "loaded",
		Help:      "1 when the recognition model is loaded",
	})

	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocrd",
		Subsystem: "model",
		Name:      "loads_total",
		Help:      "Total number of successful model loads",
	})

	loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocrd",
		Subsystem: "model",
		Name:      "load_failures_total",
		Help:      "Total number of failed model loads",
	})

	releasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "model",
			Name:      "releases_total",
			Help:      "Total number of model releases by reason",
		},
		[]string{"reason"},
	)

	activeLeases = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrd",
		Subsystem: "model",
		Name:      "active_leases",
		Help:      "Leases currently held on the model",
	})

	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ocrd",
		Subsystem: "model",
		Name:      "load_duration_seconds",
		Help:      "Duration of model loads in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

func init() {
	prometheus.MustRegister(modelLoaded, loadsTotal, loadFailuresTotal, releasesTotal, activeLeases, loadDuration)
}

// timeNewTicker is swapped in tests that need a manual tick source.
var timeNewTicker = time.NewTicker
