// Package control implements C6: the deployment control plane — begin,
// undo, rollback, pause/resume, and the global lock — built on the
// persistence (C1), pipeline (C3), and executor (C4) packages (spec.md
// §4.6). It is the one package that decides when a new deployment
// record comes into existence and which of the two entry points
// (the full preparation pipeline, or a straight-to-executor swap of
// already-known states) it starts from.
package control

import (
	"context"
	"regexp"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/collab"
	"github.com/maestro-deploy/maestro/pkg/executor"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/mmetrics"
	"github.com/maestro-deploy/maestro/pkg/pipeline"
	"github.com/maestro-deploy/maestro/pkg/queue"
	"github.com/maestro-deploy/maestro/pkg/registrykv"
	"github.com/maestro-deploy/maestro/pkg/store"
)

// ErrLocked is returned verbatim by begin/rollback/undo/resume while
// the global lock is set (spec.md §4.6, §8 scenario 3's literal body).
var ErrLocked = errors.New("Maestro is currently closed for business.")

// ErrAlreadyInProgress is returned when the (application, environment,
// region) triple already owns an in-progress deployment.
var ErrAlreadyInProgress = errors.New("a deployment is already in progress for this application, environment and region")

// ErrInvalidApplicationName is returned by Begin when the requested
// application name does not match ^[a-z]+$.
var ErrInvalidApplicationName = errors.New("application name must match ^[a-z]+$")

var applicationNameRe = regexp.MustCompile(`^[a-z]+$`)

// BeginRequest is the input to Begin.
type BeginRequest struct {
	Application string
	Environment string
	Region      string
	User        string
	Message     string
	ImageID     string
	Hash        string // optional; ensure-hash resolves the latest if empty
}

// Control is the deployment control plane.
type Control struct {
	store      store.Store
	inProgress *registrykv.Store
	pauses     *registrykv.Store
	lock       *registrykv.Store
	queue      *queue.Queue
	runner     *pipeline.Runner
	exec       *executor.Executor
	logger     log.Logger

	metadata collab.MetadataClient
	config   collab.ConfigurationClient
	policy   collab.PolicyClient
	facade   cloud.Facade

	newID func() string
	now   func() time.Time
}

// New wires a Control plane. pauses is shared with the Executor's pause
// check (constructed by the caller, see cmd/maestrod) so both sides
// consult the same registry; New sets exec.OnFinished to clear
// inProgress when a deployment finishes.
func New(
	st store.Store,
	inProgress, pauses, lock *registrykv.Store,
	q *queue.Queue,
	runner *pipeline.Runner,
	exec *executor.Executor,
	logger log.Logger,
	metadata collab.MetadataClient,
	config collab.ConfigurationClient,
	policy collab.PolicyClient,
	facade cloud.Facade,
) *Control {
	c := &Control{
		store:      st,
		inProgress: inProgress,
		pauses:     pauses,
		lock:       lock,
		queue:      q,
		runner:     runner,
		exec:       exec,
		logger:     logger,
		metadata:   metadata,
		config:     config,
		policy:     policy,
		facade:     facade,
		newID:      func() string { return uuid.NewString() },
		now:        func() time.Time { return time.Now().UTC() },
	}
	exec.OnFinished = func(dep *maestro.Deployment) {
		c.inProgress.Release(maestro.KeyOf(dep).String())
	}
	go c.dispatch()
	return c
}

// dispatch drains the work queue, running each message's Do
// concurrently with messages for other keys. Do is expected to kick off
// its work (pipeline/executor, both callback-driven) and return
// quickly; Done is called right after, so the queue's per-key busy flag
// covers only the synchronous portion of admission, not the
// deployment's full asynchronous lifetime — a second message for the
// same id queued while the first is still running is the one case this
// does not serialize, and in practice only Resume re-enqueues an
// existing id, which callers only do while paused.
func (c *Control) dispatch() {
	for msg := range c.queue.Ready() {
		m := msg
		go func() {
			m.Do()
			c.queue.Done(m.Key)
		}()
	}
}

// Begin validates the request, persists a skeleton deployment, acquires
// the in-progress slot, and enqueues the preparation pipeline.
func (c *Control) Begin(ctx context.Context, req BeginRequest) (string, error) {
	if c.lock.Has(lockKey) {
		lockContention.With(mmetrics.LabelAction, "begin").Add(1)
		return "", ErrLocked
	}
	if !applicationNameRe.MatchString(req.Application) {
		return "", ErrInvalidApplicationName
	}

	key := maestro.Key{Application: req.Application, Environment: req.Environment, Region: req.Region}
	if !c.inProgress.Acquire(key.String()) {
		lockContention.With(mmetrics.LabelAction, "begin").Add(1)
		return "", ErrAlreadyInProgress
	}

	id := c.newID()
	dep := &maestro.Deployment{
		ID:                id,
		Application:       req.Application,
		Environment:       req.Environment,
		Region:            req.Region,
		User:              req.User,
		Message:           req.Message,
		RequestedImageID:  req.ImageID,
		Created:           c.now(),
		Phase:             maestro.PhasePreparation,
		Status:            maestro.StatusRunning,
		NewState:          maestro.State{Hash: req.Hash},
		Tasks:             maestro.NewTaskSequence(c.newID),
	}
	if err := c.store.StoreDeployment(ctx, dep); err != nil {
		c.inProgress.Release(key.String())
		return "", err
	}

	c.queue.Enqueue(queue.Message{Key: dep.ID, Do: func() { c.runPreparation(ctx, dep) }})
	return id, nil
}

func (c *Control) runPreparation(ctx context.Context, dep *maestro.Deployment) {
	pc := &pipeline.Context{
		Dep:      dep,
		Metadata: c.metadata,
		Config:   c.config,
		Policy:   c.policy,
		Facade:   c.facade,
		Now:      c.now,
	}
	c.runner.Run(ctx, pc, pipeline.Callbacks{
		OnPrepared: func(d *maestro.Deployment) { c.exec.Start(ctx, d) },
		OnFailed:   func(d *maestro.Deployment) { c.inProgress.Release(maestro.KeyOf(d).String()) },
	})
}

// Undo emits a new deployment that swaps the current/previous states of
// the most recent deployment for the triple and runs the executor
// directly against the reversed orientation — the states are already
// fully resolved, so the preparation pipeline is skipped (spec.md §4.6).
func (c *Control) Undo(ctx context.Context, application, environment, region, user string) (string, error) {
	if c.lock.Has(lockKey) {
		lockContention.With(mmetrics.LabelAction, "undo").Add(1)
		return "", ErrLocked
	}

	source, err := c.mostRecent(ctx, application, environment, region)
	if err != nil {
		return "", err
	}
	if !undoable(source) {
		return "", errors.New("undo is only allowed while a deployment is in progress or recently ended without success")
	}
	if source.PreviousState == nil {
		return "", errors.New("no previous state to undo to")
	}

	key := maestro.Key{Application: application, Environment: environment, Region: region}
	if !c.inProgress.Acquire(key.String()) {
		lockContention.With(mmetrics.LabelAction, "undo").Add(1)
		return "", ErrAlreadyInProgress
	}

	reversedNew := *source.PreviousState
	reversedPrevious := source.NewState
	dep := &maestro.Deployment{
		ID:               c.newID(),
		Application:      application,
		Environment:      environment,
		Region:           region,
		User:             user,
		Message:          "undo of " + source.ID,
		RequestedImageID: source.RequestedImageID,
		Created:          c.now(),
		Phase:            maestro.PhaseDeployment,
		Status:           maestro.StatusRunning,
		NewState:         reversedNew,
		PreviousState:    &reversedPrevious,
		Tasks:            maestro.NewTaskSequence(c.newID),
		Rollback:         true,
	}
	if err := c.store.StoreDeployment(ctx, dep); err != nil {
		c.inProgress.Release(key.String())
		return "", err
	}

	c.queue.Enqueue(queue.Message{Key: dep.ID, Do: func() { c.exec.Start(ctx, dep) }})
	return dep.ID, nil
}

func undoable(dep *maestro.Deployment) bool {
	return dep.Status == maestro.StatusRunning || dep.Status == maestro.StatusFailed || dep.Status == maestro.StatusTerminated
}

// Rollback emits a new deployment pinned to the configuration hash and
// image of the penultimate completed deployment for the triple, and
// runs it through the full preparation pipeline like an ordinary
// deploy (spec.md §4.6) — unlike Undo, the target's states are not
// reused directly, only its hash and image identity.
func (c *Control) Rollback(ctx context.Context, application, environment, region, user string) (string, error) {
	if c.lock.Has(lockKey) {
		lockContention.With(mmetrics.LabelAction, "rollback").Add(1)
		return "", ErrLocked
	}

	completed, err := c.store.Query(ctx, store.Query{
		Application: application, Environment: environment, Region: region,
		Status: maestro.StatusCompleted, Size: 2,
	})
	if err != nil {
		return "", err
	}
	if len(completed) < 2 {
		return "", errors.New("no earlier completed deployment to roll back to")
	}
	target := completed[1]

	key := maestro.Key{Application: application, Environment: environment, Region: region}
	if !c.inProgress.Acquire(key.String()) {
		lockContention.With(mmetrics.LabelAction, "rollback").Add(1)
		return "", ErrAlreadyInProgress
	}

	id := c.newID()
	dep := &maestro.Deployment{
		ID:               id,
		Application:      application,
		Environment:      environment,
		Region:           region,
		User:             user,
		Message:          "rollback to " + target.ID,
		RequestedImageID: target.NewState.ImageDetails.ID,
		Created:          c.now(),
		Phase:            maestro.PhasePreparation,
		Status:           maestro.StatusRunning,
		NewState:         maestro.State{Hash: target.NewState.Hash},
		Tasks:            maestro.NewTaskSequence(c.newID),
		Rollback:         true,
	}
	if err := c.store.StoreDeployment(ctx, dep); err != nil {
		c.inProgress.Release(key.String())
		return "", err
	}

	c.queue.Enqueue(queue.Message{Key: dep.ID, Do: func() { c.runPreparation(ctx, dep) }})
	return id, nil
}

func (c *Control) mostRecent(ctx context.Context, application, environment, region string) (*maestro.Deployment, error) {
	deps, err := c.store.Query(ctx, store.Query{Application: application, Environment: environment, Region: region, Size: 1})
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return nil, errors.New("no deployment found for this application, environment and region")
	}
	return deps[0], nil
}

// RegisterPause sets the pause flag for a triple, reporting whether it
// was not already set; the executor checks the flag between tasks,
// never within one.
func (c *Control) RegisterPause(key maestro.Key) bool {
	return c.pauses.Acquire(key.String())
}

// UnregisterPause clears the pause flag, reporting whether it was set.
func (c *Control) UnregisterPause(key maestro.Key) bool {
	if !c.pauses.Has(key.String()) {
		return false
	}
	c.pauses.Release(key.String())
	return true
}

// Paused reports whether key currently has a registered pause.
func (c *Control) Paused(key maestro.Key) bool {
	return c.pauses.Has(key.String())
}

// Resume clears the pause flag on a paused deployment and re-enqueues
// its next pending task (spec.md §4.6); invalid on anything but a
// paused deployment.
func (c *Control) Resume(ctx context.Context, application, environment, region string) error {
	if c.lock.Has(lockKey) {
		lockContention.With(mmetrics.LabelAction, "resume").Add(1)
		return ErrLocked
	}
	key := maestro.Key{Application: application, Environment: environment, Region: region}

	paused, err := c.store.Query(ctx, store.Query{Application: application, Environment: environment, Region: region, Status: maestro.StatusPaused, Size: 1})
	if err != nil {
		return err
	}
	if len(paused) == 0 {
		return errors.New("no paused deployment for this application, environment and region")
	}
	dep := paused[0]

	next := firstPendingTask(dep)
	if next == nil {
		return errors.New("paused deployment has no pending task to resume")
	}

	c.pauses.Release(key.String())
	dep.Status = maestro.StatusRunning
	if err := c.store.StoreDeployment(ctx, dep); err != nil {
		return err
	}

	c.queue.Enqueue(queue.Message{Key: dep.ID, Do: func() { c.exec.Resume(ctx, dep, next) }})
	return nil
}

func firstPendingTask(dep *maestro.Deployment) *maestro.Task {
	for _, t := range dep.Tasks {
		if t.Status == maestro.TaskPending {
			return t
		}
	}
	return nil
}

const lockKey = "lock"

// Lock sets the global lock.
func (c *Control) Lock() { c.lock.Acquire(lockKey) }

// Unlock clears the global lock.
func (c *Control) Unlock() { c.lock.Release(lockKey) }

// Locked reports the global lock's current state.
func (c *Control) Locked() bool { return c.lock.Has(lockKey) }

// InProgress returns a snapshot of every (application, environment,
// region) triple currently owning a deployment.
func (c *Control) InProgress() []string { return c.inProgress.Keys() }

// PausedKeys returns a snapshot of every triple with a registered
// pause, whether or not the deployment has reached a paused task
// boundary yet — the distinction GET /awaiting-pause needs (spec.md
// §6) from GET /paused.
func (c *Control) PausedKeys() []string { return c.pauses.Keys() }
