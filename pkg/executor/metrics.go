package executor

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/maestro-deploy/maestro/pkg/mmetrics"
)

var (
	taskDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "maestro",
		Subsystem: "executor",
		Name:      "task_duration_seconds",
		Help:      "Duration of a single task's execution, from dispatch to completion or failure, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{mmetrics.LabelAction, mmetrics.LabelSuccess})

	deploymentDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "maestro",
		Subsystem: "executor",
		Name:      "deployment_duration_seconds",
		Help:      "Duration of a deployment's full task sequence, from the first task to the last, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 600, 1800, 3600},
	}, []string{mmetrics.LabelSuccess})
)
