package executor

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/store/memstore"
)

// newTestDeployment builds a deployment with just the create-asg task,
// so onTaskComplete's advance-to-next-task branch resolves to
// finishDeployment instead of dispatching a real facade/checker call
// these tests have no need to fake.
func newTestDeployment(t *testing.T, st *memstore.Store) *maestro.Deployment {
	t.Helper()
	dep := &maestro.Deployment{
		ID:    "d1",
		Phase: maestro.PhaseDeployment,
		Tasks: []*maestro.Task{{ID: "create", Action: maestro.ActionCreateASG, Status: maestro.TaskPending, Log: []maestro.LogLine{}}},
	}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))
	return dep
}

// TestOnTaskCompleteExtractsASGNameFromTaskLogOnAsyncPath covers the
// create-asg 302 naming the task show page rather than the new ASG's
// own show page (spec.md §4.4): the name never appears in the Location
// header at all, only in the completed task's own log.
func TestOnTaskCompleteExtractsASGNameFromTaskLogOnAsyncPath(t *testing.T) {
	st := memstore.New()
	dep := newTestDeployment(t, st)
	e := &Executor{store: st, logger: log.NewNopLogger()}

	task := dep.Tasks[0]
	require.Equal(t, maestro.ActionCreateASG, task.Action)
	now := time.Now().UTC()
	task.Start = &now
	task.End = &now
	task.Status = maestro.TaskCompleted
	task.Log = []maestro.LogLine{
		{Date: now, Message: "Creating auto scaling group 'helloworld-prod-v002'"},
	}

	e.onTaskComplete(context.Background(), dep, task)

	assert.Equal(t, "helloworld-prod-v002", dep.NewState.AutoScalingGroupName)
}

// TestOnTaskCompleteLeavesASGNameAloneWhenLogHasNoAnnouncement covers
// the synchronous Location path, where handleCallResult already sets
// the name directly and the task never accumulates a log at all.
func TestOnTaskCompleteLeavesASGNameAloneWhenLogHasNoAnnouncement(t *testing.T) {
	st := memstore.New()
	dep := newTestDeployment(t, st)
	dep.NewState.AutoScalingGroupName = "helloworld-prod-v002"
	e := &Executor{store: st, logger: log.NewNopLogger()}

	task := dep.Tasks[0]
	now := time.Now().UTC()
	task.Start = &now
	task.End = &now
	task.Status = maestro.TaskCompleted

	e.onTaskComplete(context.Background(), dep, task)

	assert.Equal(t, "helloworld-prod-v002", dep.NewState.AutoScalingGroupName)
}

// TestOnTaskCompleteDoesNotRestampAnAlreadyTerminalTask guards the fix
// for the double-stamp bug this file used to have: a task the tracker
// already marked terminal must not be rewritten with a second,
// different End, which memstore's monotone-End check rejects.
func TestOnTaskCompleteDoesNotRestampAnAlreadyTerminalTask(t *testing.T) {
	st := memstore.New()
	dep := newTestDeployment(t, st)
	e := &Executor{store: st, logger: log.NewNopLogger()}

	task := dep.Tasks[0]
	now := time.Now().UTC()
	task.Start = &now
	task.End = &now
	task.Status = maestro.TaskCompleted
	require.NoError(t, st.StoreTask(context.Background(), dep.ID, task))

	e.onTaskComplete(context.Background(), dep, task)

	got, err := st.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, maestro.TaskCompleted, got.Tasks[0].Status)
	assert.True(t, got.Tasks[0].End.Equal(now))
}
