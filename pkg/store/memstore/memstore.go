// Package memstore is the in-process stand-in for the spec's external
// document store (spec.md §1, "Out of scope ... The document store").
// It satisfies store.Store with the same per-deployment-id
// serialization discipline spec.md §4.1 requires of any adapter that
// cannot otherwise guarantee atomic appends: a lock per deployment id,
// held for the duration of one mutation, mirroring the single
// goroutine-owns-the-slice idiom of pkg/job/job.go's Queue.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/store"
)

type Store struct {
	mu    sync.Mutex // guards deployments and locks
	locks map[string]*sync.Mutex
	deployments map[string]*maestro.Deployment
}

func New() *Store {
	return &Store{
		locks:       make(map[string]*sync.Mutex),
		deployments: make(map[string]*maestro.Deployment),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) StoreDeployment(ctx context.Context, dep *maestro.Deployment) error {
	l := s.lockFor(dep.ID)
	l.Lock()
	defer l.Unlock()

	cp := clone(dep)
	s.mu.Lock()
	s.deployments[dep.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (*maestro.Deployment, error) {
	s.mu.Lock()
	dep, ok := s.deployments[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no deployment with id %q", id)
	}
	return clone(dep), nil
}

func (s *Store) StoreTask(ctx context.Context, depID string, task *maestro.Task) error {
	l := s.lockFor(depID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	dep, ok := s.deployments[depID]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("no deployment with id %q", depID)
	}

	for i, existing := range dep.Tasks {
		if existing.ID != task.ID {
			continue
		}
		if existing.Status.Regresses(task.Status) {
			return errors.Errorf("task %q status would regress from %q to %q", task.ID, existing.Status, task.Status)
		}
		if len(task.Log) < len(existing.Log) {
			return errors.Errorf("task %q log would shrink from %d to %d lines", task.ID, len(existing.Log), len(task.Log))
		}
		if existing.End != nil && task.End != nil && !existing.End.Equal(*task.End) {
			return errors.Errorf("task %q end time already set", task.ID)
		}
		dep.Tasks[i] = cloneTask(task)
		return nil
	}
	dep.Tasks = append(dep.Tasks, cloneTask(task))
	return nil
}

func (s *Store) AppendLog(ctx context.Context, depID string, message string) error {
	l := s.lockFor(depID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	dep, ok := s.deployments[depID]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("no deployment with id %q", depID)
	}
	dep.Log = append(dep.Log, maestro.LogLine{Date: time.Now().UTC(), Message: message})
	return nil
}

func (s *Store) AddToDeploymentParameters(ctx context.Context, depID string, partial map[string]interface{}) error {
	l := s.lockFor(depID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	dep, ok := s.deployments[depID]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("no deployment with id %q", depID)
	}
	if dep.NewState.Tyranitar.DeploymentParams == nil {
		dep.NewState.Tyranitar.DeploymentParams = map[string]interface{}{}
	}
	for k, v := range partial {
		dep.NewState.Tyranitar.DeploymentParams[k] = v
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]*maestro.Deployment, error) {
	s.mu.Lock()
	all := make([]*maestro.Deployment, 0, len(s.deployments))
	for _, dep := range s.deployments {
		all = append(all, dep)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Created.After(all[j].Created) })

	var out []*maestro.Deployment
	for _, dep := range all {
		if q.Application != "" && dep.Application != q.Application {
			continue
		}
		if q.Environment != "" && dep.Environment != q.Environment {
			continue
		}
		if q.Region != "" && dep.Region != q.Region {
			continue
		}
		if q.Status != "" && dep.Status != q.Status {
			continue
		}
		if q.StartFrom != nil && (dep.Start == nil || dep.Start.Before(*q.StartFrom)) {
			continue
		}
		if q.StartTo != nil && (dep.Start == nil || dep.Start.After(*q.StartTo)) {
			continue
		}
		out = append(out, clone(dep))
	}

	if q.From > 0 && q.From < len(out) {
		out = out[q.From:]
	} else if q.From >= len(out) {
		out = nil
	}
	if q.Size > 0 && q.Size < len(out) {
		out = out[:q.Size]
	}
	return out, nil
}

func clone(dep *maestro.Deployment) *maestro.Deployment {
	cp := *dep
	cp.Tasks = make([]*maestro.Task, len(dep.Tasks))
	for i, t := range dep.Tasks {
		cp.Tasks[i] = cloneTask(t)
	}
	cp.Log = append([]maestro.LogLine(nil), dep.Log...)
	if dep.PreviousState != nil {
		ps := *dep.PreviousState
		cp.PreviousState = &ps
	}
	return &cp
}

func cloneTask(t *maestro.Task) *maestro.Task {
	cp := *t
	cp.Log = append([]maestro.LogLine(nil), t.Log...)
	if t.Remote != nil {
		r := *t.Remote
		cp.Remote = &r
	}
	return &cp
}

var _ store.Store = (*Store)(nil)
