package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	warningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngwarden_warnings_total",
			Help: "Warnings sent for incomplete profiles",
		},
		[]string{"kind"},
	)

	restrictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngwarden_restrictions_total",
			Help: "Compliance cycles closed, by cause",
		},
		[]string{"cause"},
	)

	challengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngwarden_challenges_total",
			Help: "Join challenges by outcome",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ngwarden_sweep_duration_seconds",
			Help:    "Time spent in one time-threshold sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry     = prometheus.NewRegistry()
	registerOnce sync.Once
)

// Registry returns the registry holding the ngwarden collectors.
func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			warningsTotal,
			restrictionsTotal,
			challengesTotal,
			sweepDuration,
		)
	})
	return registry
}

func RecordWarning(kind string) {
	warningsTotal.WithLabelValues(kind).Inc()
}

func RecordRestriction(cause string) {
	restrictionsTotal.WithLabelValues(cause).Inc()
}

func RecordChallenge(outcome string) {
	challengesTotal.WithLabelValues(outcome).Inc()
}

// StartSweep returns a function that records the elapsed sweep time.
func StartSweep() func() {
	started := time.Now()
	return func() {
		sweepDuration.Observe(time.Since(started).Seconds())
	}
}
