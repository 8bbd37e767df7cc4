package pipeline

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/maestro-deploy/maestro/pkg/mmetrics"
)

// stepDuration is labeled by step name and outcome rather than a bare
// success bool, since a step's retry outcome is itself informative
// (which collaborator is slow or flapping).
var stepDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "maestro",
	Subsystem: "pipeline",
	Name:      "step_duration_seconds",
	Help:      "Duration of a single preparation step invocation, in seconds.",
	Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
}, []string{mmetrics.LabelOperation, mmetrics.LabelAction})
