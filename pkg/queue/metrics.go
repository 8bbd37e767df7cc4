package queue

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// queueLength counts messages that have been enqueued but not yet
// marked Done, across every key, mirroring pkg/daemon/metrics.go's
// queue_length_count gauge.
var queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
	Namespace: "maestro",
	Subsystem: "queue",
	Name:      "length",
	Help:      "Count of messages enqueued but not yet marked done, across all keys.",
}, []string{})
