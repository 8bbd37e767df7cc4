package control

import (
	"context"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-deploy/maestro/pkg/executor"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/pipeline"
	"github.com/maestro-deploy/maestro/pkg/queue"
	"github.com/maestro-deploy/maestro/pkg/registrykv"
	"github.com/maestro-deploy/maestro/pkg/store/memstore"
	"github.com/maestro-deploy/maestro/pkg/tracker"
)

// newTestControl wires a Control against a fresh memstore with no
// collaborators or facade — sufficient for exercising the admission
// guards (lock, in-progress, validation) that return before anything
// is ever enqueued onto the pipeline or executor.
func newTestControl(t *testing.T) (*Control, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	var wg sync.WaitGroup
	q := queue.New(stop, &wg)
	runner := pipeline.New(st, log.NewNopLogger())
	trk := tracker.New(nil, st, log.NewNopLogger())
	exec := executor.New(nil, trk, st, log.NewNopLogger(), nil, nil)

	c := New(st, registrykv.New(), registrykv.New(), registrykv.New(), q, runner, exec,
		log.NewNopLogger(), nil, nil, nil, nil)
	return c, st
}

func TestBeginRejectsWhenLocked(t *testing.T) {
	c, _ := newTestControl(t)
	c.Lock()

	_, err := c.Begin(context.Background(), BeginRequest{Application: "helloworld", Environment: "prod", Region: "us-east-1"})
	assert.Equal(t, ErrLocked, err)
}

func TestBeginRejectsInvalidApplicationName(t *testing.T) {
	c, _ := newTestControl(t)

	_, err := c.Begin(context.Background(), BeginRequest{Application: "Hello-World", Environment: "prod", Region: "us-east-1"})
	assert.Equal(t, ErrInvalidApplicationName, err)
}

func TestBeginRejectsWhenAlreadyInProgress(t *testing.T) {
	c, _ := newTestControl(t)
	key := maestro.Key{Application: "helloworld", Environment: "prod", Region: "us-east-1"}
	require.True(t, c.inProgress.Acquire(key.String()))

	_, err := c.Begin(context.Background(), BeginRequest{Application: "helloworld", Environment: "prod", Region: "us-east-1"})
	assert.Equal(t, ErrAlreadyInProgress, err)
}

func TestLockUnlockLocked(t *testing.T) {
	c, _ := newTestControl(t)
	assert.False(t, c.Locked())
	c.Lock()
	assert.True(t, c.Locked())
	c.Unlock()
	assert.False(t, c.Locked())
}

func TestRegisterPauseUnregisterPauseAndPausedKeys(t *testing.T) {
	c, _ := newTestControl(t)
	key := maestro.Key{Application: "helloworld", Environment: "prod", Region: "us-east-1"}

	assert.True(t, c.RegisterPause(key))
	assert.False(t, c.RegisterPause(key))
	assert.True(t, c.Paused(key))
	assert.Equal(t, []string{key.String()}, c.PausedKeys())

	assert.True(t, c.UnregisterPause(key))
	assert.False(t, c.UnregisterPause(key))
	assert.False(t, c.Paused(key))
}

func TestUndoRejectsWhenNotUndoable(t *testing.T) {
	c, st := newTestControl(t)
	dep := &maestro.Deployment{ID: "d1", Application: "helloworld", Environment: "prod", Region: "us-east-1", Status: maestro.StatusCompleted}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	_, err := c.Undo(context.Background(), "helloworld", "prod", "us-east-1", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undo is only allowed")
}

func TestUndoRejectsWhenNoPreviousState(t *testing.T) {
	c, st := newTestControl(t)
	dep := &maestro.Deployment{ID: "d1", Application: "helloworld", Environment: "prod", Region: "us-east-1", Status: maestro.StatusFailed}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	_, err := c.Undo(context.Background(), "helloworld", "prod", "us-east-1", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no previous state")
}

func TestRollbackRejectsWithFewerThanTwoCompletedDeployments(t *testing.T) {
	c, st := newTestControl(t)
	dep := &maestro.Deployment{ID: "d1", Application: "helloworld", Environment: "prod", Region: "us-east-1", Status: maestro.StatusCompleted}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	_, err := c.Rollback(context.Background(), "helloworld", "prod", "us-east-1", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no earlier completed deployment")
}

func TestResumeRejectsWhenNoPausedDeployment(t *testing.T) {
	c, _ := newTestControl(t)

	err := c.Resume(context.Background(), "helloworld", "prod", "us-east-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no paused deployment")
}

func TestResumeRejectsWhenNoPendingTaskRemains(t *testing.T) {
	c, st := newTestControl(t)
	tasks := maestro.NewTaskSequence(func() string { return "t" })
	for _, task := range tasks {
		task.Status = maestro.TaskCompleted
	}
	dep := &maestro.Deployment{ID: "d1", Application: "helloworld", Environment: "prod", Region: "us-east-1", Status: maestro.StatusPaused, Tasks: tasks}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	err := c.Resume(context.Background(), "helloworld", "prod", "us-east-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending task")
}
