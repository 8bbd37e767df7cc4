// Package tracker implements C2: the long-running poller that mirrors
// a remote task's status into the store until terminal (spec.md §4.2).
// Rescheduling is message-passing, not a blocking sleep loop: each tick
// either finishes the task or emits a delayed "next tick" that a
// time.Timer redelivers, the same shape as pkg/daemon/loop.go's
// timer-driven select rather than a goroutine recursing on itself.
package tracker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/mmetrics"
	"github.com/maestro-deploy/maestro/pkg/store"
	"github.com/maestro-deploy/maestro/pkg/transport"
)

// PollInterval is one observation per second, per spec.md §4.2.
const PollInterval = time.Second

// DefaultMaxDuration is the "full duration budget of 3600 ticks for
// ordinary tasks" spec.md §4.2 names.
const DefaultMaxDuration = 3600 * time.Second

// Callbacks the tracker invokes on terminal outcomes.
type Callbacks struct {
	OnComplete func(depID string, task *maestro.Task)
	OnTimeout  func(depID string, task *maestro.Task)
}

// Tracker polls cloud.Facade.GetTaskStatus for one remote task until it
// reaches a terminal status or its budget is exhausted.
type Tracker struct {
	facade cloud.Facade
	store  store.Store
	logger log.Logger
	ticker tickScheduler
}

// tickScheduler lets tests substitute an immediate, synchronous
// scheduler instead of a real timer.
type tickScheduler interface {
	After(d time.Duration, fn func())
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

func New(facade cloud.Facade, st store.Store, logger log.Logger) *Tracker {
	return &Tracker{facade: facade, store: st, logger: logger, ticker: realScheduler{}}
}

// Track begins polling task's remote handle. It returns immediately;
// outcomes arrive via cb.
func (t *Tracker) Track(ctx context.Context, depID string, task *maestro.Task, maxDuration time.Duration, cb Callbacks) {
	t.tick(ctx, depID, task, maxDuration, cb)
}

func (t *Tracker) tick(ctx context.Context, depID string, task *maestro.Task, remaining time.Duration, cb Callbacks) {
	if remaining <= 0 {
		t.finishTimeout(ctx, depID, task, cb)
		return
	}

	pollStart := time.Now()
	status, err := t.facade.GetTaskStatus(ctx, task.Remote.URL)
	pollDuration.With(mmetrics.LabelSuccess, strconv.FormatBool(err == nil)).Observe(time.Since(pollStart).Seconds())
	if err != nil {
		class, ok := classify(err)
		if ok && (class == transport.ClassHTTP || class == transport.ClassStatus) {
			t.logger.Log("task", task.ID, "warning", "transport fault polling remote task, rescheduling", "err", err)
			t.reschedule(ctx, depID, task, remaining, cb)
			return
		}
		t.logger.Log("task", task.ID, "err", errors.Wrap(err, "fatal error polling remote task"))
		return
	}

	observed, err := normalize(status)
	if err != nil {
		t.logger.Log("task", task.ID, "err", errors.Wrap(err, "normalizing remote task status"))
		t.reschedule(ctx, depID, task, remaining, cb)
		return
	}

	task.Log = mergeLogs(task.Log, observed.Log)
	if updated, err := parseUpdateTime(status.UpdateTime); err == nil {
		task.UpdatedAt = &updated
	}
	if storeErr := t.store.StoreTask(ctx, depID, task); storeErr != nil {
		t.logger.Log("task", task.ID, "warning", "store fault persisting task observation, rescheduling", "err", storeErr)
		t.reschedule(ctx, depID, task, remaining, cb)
		return
	}

	if isTerminal(observed.Status) {
		t.finishTerminal(ctx, depID, task, observed.Status, cb)
		return
	}

	t.reschedule(ctx, depID, task, remaining, cb)
}

func (t *Tracker) reschedule(ctx context.Context, depID string, task *maestro.Task, remaining time.Duration, cb Callbacks) {
	t.ticker.After(PollInterval, func() {
		t.tick(ctx, depID, task, remaining-PollInterval, cb)
	})
}

func (t *Tracker) finishTerminal(ctx context.Context, depID string, task *maestro.Task, status string, cb Callbacks) {
	now := time.Now().UTC()
	task.End = &now
	switch status {
	case "completed":
		task.Status = maestro.TaskCompleted
	case "failed":
		task.Status = maestro.TaskFailed
	case "terminated":
		task.Status = maestro.TaskTerminated
	}
	if err := t.store.StoreTask(ctx, depID, task); err != nil {
		t.logger.Log("task", task.ID, "err", errors.Wrap(err, "persisting terminal task status"))
	}
	observeTaskDuration(task, status == "completed")
	if status == "completed" {
		cb.OnComplete(depID, task)
	} else {
		cb.OnTimeout(depID, task)
	}
}

func (t *Tracker) finishTimeout(ctx context.Context, depID string, task *maestro.Task, cb Callbacks) {
	now := time.Now().UTC()
	task.End = &now
	task.Status = maestro.TaskFailed
	if err := t.store.StoreTask(ctx, depID, task); err != nil {
		t.logger.Log("task", task.ID, "err", errors.Wrap(err, "persisting timed-out task"))
	}
	observeTaskDuration(task, false)
	cb.OnTimeout(depID, task)
}

// observeTaskDuration records wall time from a task's start (task.Start,
// stamped by the executor when it dispatches the task) to its terminal
// status. Tasks with task.Start or task.End unset contribute nothing.
func observeTaskDuration(task *maestro.Task, success bool) {
	if task.Start == nil || task.End == nil {
		return
	}
	taskDuration.With(mmetrics.LabelSuccess, strconv.FormatBool(success)).Observe(task.End.Sub(*task.Start).Seconds())
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "terminated":
		return true
	}
	return false
}

func classify(err error) (transport.ErrorClass, bool) {
	var ce *transport.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return "", false
}

type observation struct {
	Status string
	Log    []maestro.LogLine
}

// remoteTimeLayout parses the "YYYY-MM-DD_HH:MM:SS" prefix of remote log
// lines ("YYYY-MM-DD_HH:MM:SS message text", per spec.md §4.2).
const remoteTimeLayout = "2006-01-02_15:04:05"
const remoteUpdateTimeLayout = "2006-01-02 15:04:05 MST"

func normalize(status cloud.RemoteTaskStatus) (observation, error) {
	lines := make([]maestro.LogLine, 0, len(status.Log))
	for _, raw := range status.Log {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 {
			lines = append(lines, maestro.LogLine{Date: time.Now().UTC(), Message: raw})
			continue
		}
		ts, err := time.Parse(remoteTimeLayout, parts[0])
		if err != nil {
			lines = append(lines, maestro.LogLine{Date: time.Now().UTC(), Message: raw})
			continue
		}
		lines = append(lines, maestro.LogLine{Date: ts.UTC(), Message: parts[1]})
	}
	return observation{Status: status.Status, Log: lines}, nil
}

// mergeLogs appends any lines in fresh not already present in existing
// (by count, since the remote log is append-only and re-served in full
// each poll).
func mergeLogs(existing, fresh []maestro.LogLine) []maestro.LogLine {
	if len(fresh) <= len(existing) {
		return existing
	}
	return append(existing, fresh[len(existing):]...)
}

// parseUpdateTime re-emits the remote's "YYYY-MM-DD HH:MM:SS UTC" as
// ISO-8601 UTC, per spec.md §4.2.
func parseUpdateTime(raw string) (time.Time, error) {
	return time.Parse(remoteUpdateTimeLayout, raw)
}
