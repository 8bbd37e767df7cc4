package health

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/maestro-deploy/maestro/pkg/mmetrics"
)

var (
	cycleDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "maestro",
		Subsystem: "health",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a single health observation cycle, in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{mmetrics.LabelOperation})

	waitDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "maestro",
		Subsystem: "health",
		Name:      "wait_duration_seconds",
		Help:      "Duration from the first cycle of a wait to its outcome, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{mmetrics.LabelOperation, mmetrics.LabelSuccess})
)
