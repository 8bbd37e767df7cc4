package control

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/maestro-deploy/maestro/pkg/mmetrics"
)

// lockContention counts requests rejected because the global lock was
// set or the (application, environment, region) triple already owned
// an in-progress deployment — the two forms of admission contention
// the control plane enforces.
var lockContention = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
	Namespace: "maestro",
	Subsystem: "control",
	Name:      "lock_contention_total",
	Help:      "Count of requests rejected by the global lock or the in-progress registry.",
}, []string{mmetrics.LabelAction})
