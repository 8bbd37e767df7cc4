package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/store/memstore"
)

func newContext(dep *maestro.Deployment) *Context {
	return &Context{
		Dep: dep,
		Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestRunAdvancesThroughAllStepsOnSuccess(t *testing.T) {
	st := memstore.New()
	dep := &maestro.Deployment{ID: "d1", Phase: maestro.PhasePreparation}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	var ran []string
	r := &Runner{
		Steps: []Step{
			{Name: "one", Run: func(ctx context.Context, pc *Context) Outcome { ran = append(ran, "one"); return Success() }},
			{Name: "two", Run: func(ctx context.Context, pc *Context) Outcome { ran = append(ran, "two"); return Success() }},
		},
		store:  st,
		logger: log.NewNopLogger(),
		ticker: realScheduler{},
	}

	prepared := make(chan *maestro.Deployment, 1)
	r.Run(context.Background(), newContext(dep), Callbacks{
		OnPrepared: func(d *maestro.Deployment) { prepared <- d },
		OnFailed:   func(d *maestro.Deployment) { t.Fatal("unexpected failure") },
	})

	select {
	case <-prepared:
	case <-time.After(time.Second):
		t.Fatal("OnPrepared never called")
	}
	assert.Equal(t, []string{"one", "two"}, ran)
}

func TestRunStopsAtFirstFailureAndMarksDeploymentFailed(t *testing.T) {
	st := memstore.New()
	dep := &maestro.Deployment{ID: "d2", Phase: maestro.PhasePreparation}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	cause := errors.New("bad params")
	ran := 0
	r := &Runner{
		Steps: []Step{
			{Name: "one", Run: func(ctx context.Context, pc *Context) Outcome { ran++; return Fail(cause) }},
			{Name: "two", Run: func(ctx context.Context, pc *Context) Outcome { ran++; return Success() }},
		},
		store:  st,
		logger: log.NewNopLogger(),
		ticker: realScheduler{},
	}

	failed := make(chan *maestro.Deployment, 1)
	r.Run(context.Background(), newContext(dep), Callbacks{
		OnPrepared: func(d *maestro.Deployment) { t.Fatal("unexpected success") },
		OnFailed:   func(d *maestro.Deployment) { failed <- d },
	})

	var got *maestro.Deployment
	select {
	case got = <-failed:
	case <-time.After(time.Second):
		t.Fatal("OnFailed never called")
	}
	assert.Equal(t, 1, ran)
	assert.Equal(t, maestro.PhaseFailed, got.Phase)
	assert.Equal(t, maestro.StatusFailed, got.Status)
	assert.Equal(t, cause.Error(), got.FailureCause)
}

func TestRunRetriesAStepUsingTheSchedulerInstead(t *testing.T) {
	st := memstore.New()
	dep := &maestro.Deployment{ID: "d3", Phase: maestro.PhasePreparation}
	require.NoError(t, st.StoreDeployment(context.Background(), dep))

	attempts := 0
	r := &Runner{
		Steps: []Step{
			{Name: "flaky", Run: func(ctx context.Context, pc *Context) Outcome {
				attempts++
				if attempts < 3 {
					return Retry(errors.New("not ready yet"))
				}
				return Success()
			}},
		},
		store:        st,
		logger:       log.NewNopLogger(),
		RetryBackoff: time.Millisecond,
		ticker:       realScheduler{},
	}

	prepared := make(chan *maestro.Deployment, 1)
	r.Run(context.Background(), newContext(dep), Callbacks{
		OnPrepared: func(d *maestro.Deployment) { prepared <- d },
		OnFailed:   func(d *maestro.Deployment) { t.Fatal("unexpected failure") },
	})

	select {
	case <-prepared:
	case <-time.After(time.Second):
		t.Fatal("OnPrepared never called after retries")
	}
	assert.Equal(t, 3, attempts)
}
