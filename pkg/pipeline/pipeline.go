// Package pipeline implements C3: the ordered sequence of preparation
// steps that validate and assemble a deployment's parameters before the
// task executor takes over (spec.md §4.3). Each step is a pure function
// of the deployment record; the runner persists between steps and
// reschedules a step returning retry after a backoff, the same
// message-passing idiom pkg/tracker and pkg/health use rather than a
// blocking sleep.
package pipeline

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/collab"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/mmetrics"
	"github.com/maestro-deploy/maestro/pkg/store"
)

// Context is the environment a step runs in: the record under
// construction plus the external collaborators it may need to consult.
type Context struct {
	Dep      *maestro.Deployment
	Metadata collab.MetadataClient
	Config   collab.ConfigurationClient
	Policy   collab.PolicyClient
	Facade   cloud.Facade
	Now      func() time.Time
}

func (pc *Context) params() map[string]interface{} {
	if pc.Dep.NewState.Tyranitar.DeploymentParams == nil {
		pc.Dep.NewState.Tyranitar.DeploymentParams = map[string]interface{}{}
	}
	return pc.Dep.NewState.Tyranitar.DeploymentParams
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeError
	outcomeRetry
)

// Outcome is what a step returns: success (continue), error (terminate
// the deployment as failed), or retry (reschedule the same step).
type Outcome struct {
	kind outcomeKind
	err  error
}

func Success() Outcome        { return Outcome{kind: outcomeSuccess} }
func Fail(err error) Outcome  { return Outcome{kind: outcomeError, err: err} }
func Retry(reason error) Outcome { return Outcome{kind: outcomeRetry, err: reason} }

// Step is one named preparation step.
type Step struct {
	Name string
	Run  func(ctx context.Context, pc *Context) Outcome
}

// Callbacks the runner invokes on terminal outcomes.
type Callbacks struct {
	OnPrepared func(dep *maestro.Deployment)
	OnFailed   func(dep *maestro.Deployment)
}

// Runner drives a Context through Steps in order.
type Runner struct {
	Steps        []Step
	store        store.Store
	logger       log.Logger
	ticker       tickScheduler
	RetryBackoff time.Duration
}

type tickScheduler interface {
	After(d time.Duration, fn func())
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// New builds a Runner over DefaultSteps, the fixed sequence of spec.md §4.3.
func New(st store.Store, logger log.Logger) *Runner {
	return &Runner{
		Steps:        DefaultSteps(),
		store:        st,
		logger:       logger,
		ticker:       realScheduler{},
		RetryBackoff: 5 * time.Second,
	}
}

// Run begins driving pc through the Runner's steps from the start. It
// returns immediately; outcomes arrive via cb.
func (r *Runner) Run(ctx context.Context, pc *Context, cb Callbacks) {
	r.tick(ctx, pc, 0, cb)
}

func (r *Runner) tick(ctx context.Context, pc *Context, idx int, cb Callbacks) {
	if idx >= len(r.Steps) {
		cb.OnPrepared(pc.Dep)
		return
	}

	step := r.Steps[idx]
	stepStart := time.Now()
	outcome := step.Run(ctx, pc)
	stepDuration.With(mmetrics.LabelOperation, step.Name, mmetrics.LabelAction, outcomeLabel(outcome.kind)).Observe(time.Since(stepStart).Seconds())

	switch outcome.kind {
	case outcomeSuccess:
		if err := r.store.StoreDeployment(ctx, pc.Dep); err != nil {
			r.logger.Log("step", step.Name, "warning", "store fault persisting preparation step, retrying", "err", err)
			r.reschedule(ctx, pc, idx, cb)
			return
		}
		r.tick(ctx, pc, idx+1, cb)

	case outcomeRetry:
		r.logger.Log("step", step.Name, "retry", outcome.err)
		r.reschedule(ctx, pc, idx, cb)

	case outcomeError:
		pc.Dep.Phase = maestro.PhaseFailed
		pc.Dep.Status = maestro.StatusFailed
		pc.Dep.FailureCause = outcome.err.Error()
		now := pc.Now()
		pc.Dep.End = &now
		if err := r.store.StoreDeployment(ctx, pc.Dep); err != nil {
			r.logger.Log("step", step.Name, "err", "failed to persist failed preparation", "cause", err)
		}
		cb.OnFailed(pc.Dep)
	}
}

func outcomeLabel(kind outcomeKind) string {
	switch kind {
	case outcomeSuccess:
		return "success"
	case outcomeRetry:
		return "retry"
	default:
		return "error"
	}
}

func (r *Runner) reschedule(ctx context.Context, pc *Context, idx int, cb Callbacks) {
	r.ticker.After(r.RetryBackoff, func() {
		r.tick(ctx, pc, idx, cb)
	})
}
