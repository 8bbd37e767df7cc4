// Package mmetrics holds the label names shared across Maestro's
// per-package metrics.go files, mirroring the teacher's pkg/metrics.
package mmetrics

const (
	LabelSuccess   = "success"
	LabelAction    = "action"
	LabelOperation = "operation"
)
