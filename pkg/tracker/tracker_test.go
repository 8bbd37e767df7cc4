package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/store/memstore"
)

// fakeFacade embeds the interface so only GetTaskStatus needs a body;
// any other method called by accident panics on a nil embedded value.
type fakeFacade struct {
	cloud.Facade
	statuses []cloud.RemoteTaskStatus
	errs     []error
	calls    int
}

func (f *fakeFacade) GetTaskStatus(ctx context.Context, url string) (cloud.RemoteTaskStatus, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return cloud.RemoteTaskStatus{}, f.errs[i]
	}
	return f.statuses[i], nil
}

// immediateScheduler runs rescheduled ticks synchronously instead of
// waiting for a real timer, so tests don't sleep.
type immediateScheduler struct{}

func (immediateScheduler) After(d time.Duration, fn func()) { fn() }

func TestTrackPollsUntilCompleted(t *testing.T) {
	st := memstore.New()
	dep := &maestro.Deployment{ID: "d1"}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	facade := &fakeFacade{statuses: []cloud.RemoteTaskStatus{
		{Status: "running"},
		{Status: "running"},
		{Status: "completed", UpdateTime: "2026-01-01 00:00:05 UTC"},
	}}
	trk := &Tracker{facade: facade, store: st, logger: log.NewNopLogger(), ticker: immediateScheduler{}}

	task := &maestro.Task{ID: "t1", Remote: &maestro.Remote{URL: "http://example/t1"}}
	completed := make(chan *maestro.Task, 1)
	trk.Track(context.Background(), dep.ID, task, DefaultMaxDuration, Callbacks{
		OnComplete: func(depID string, tk *maestro.Task) { completed <- tk },
		OnTimeout:  func(depID string, tk *maestro.Task) { t.Fatal("unexpected timeout") },
	})

	select {
	case got := <-completed:
		assert.Equal(t, maestro.TaskCompleted, got.Status)
	case <-time.After(time.Second):
		t.Fatal("OnComplete never called")
	}
	assert.Equal(t, 3, facade.calls)
}

func TestTrackTimesOutWhenBudgetExhausted(t *testing.T) {
	st := memstore.New()
	dep := &maestro.Deployment{ID: "d2"}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	facade := &fakeFacade{statuses: []cloud.RemoteTaskStatus{{Status: "running"}}}
	trk := &Tracker{facade: facade, store: st, logger: log.NewNopLogger(), ticker: immediateScheduler{}}

	task := &maestro.Task{ID: "t2", Remote: &maestro.Remote{URL: "http://example/t2"}}
	timedOut := make(chan *maestro.Task, 1)
	trk.Track(context.Background(), dep.ID, task, PollInterval, Callbacks{
		OnComplete: func(depID string, tk *maestro.Task) { t.Fatal("unexpected completion") },
		OnTimeout:  func(depID string, tk *maestro.Task) { timedOut <- tk },
	})

	select {
	case got := <-timedOut:
		assert.Equal(t, maestro.TaskFailed, got.Status)
	case <-time.After(time.Second):
		t.Fatal("OnTimeout never called")
	}
}
