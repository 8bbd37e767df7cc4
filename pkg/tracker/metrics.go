package tracker

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/maestro-deploy/maestro/pkg/mmetrics"
)

var (
	// Most polls against a healthy remote task complete well under a
	// second; the long tail is transport retries.
	pollDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "maestro",
		Subsystem: "tracker",
		Name:      "poll_duration_seconds",
		Help:      "Duration of a single GetTaskStatus poll against a remote task, in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{mmetrics.LabelSuccess})

	taskDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "maestro",
		Subsystem: "tracker",
		Name:      "task_duration_seconds",
		Help:      "Duration from a remote task's start to its terminal status, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{mmetrics.LabelSuccess})
)
