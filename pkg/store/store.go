// Package store defines the persistence contract C1 (spec.md §4.1)
// needs from whatever document store backs deployments and tasks. The
// store itself is external; implementations only need to guarantee
// that concurrent writers for the same deployment id don't lose log
// lines, serializing internally if the backing store can't do it for
// them.
package store

import (
	"context"
	"time"

	"github.com/maestro-deploy/maestro/pkg/maestro"
)

// Store is the persistence adapter C1 exposes to the rest of the core.
type Store interface {
	// StoreDeployment upserts dep in its entirety.
	StoreDeployment(ctx context.Context, dep *maestro.Deployment) error

	// GetDeployment fetches a deployment by id.
	GetDeployment(ctx context.Context, id string) (*maestro.Deployment, error)

	// StoreTask upserts task under deployment depID, preserving the
	// append-only log and monotone status invariants (spec.md
	// invariant 5): it is an error to regress Status or to shrink Log.
	StoreTask(ctx context.Context, depID string, task *maestro.Task) error

	// AppendLog atomically appends a timestamped line to the
	// deployment-level log stream (distinct from any task's own log).
	AppendLog(ctx context.Context, depID string, message string) error

	// AddToDeploymentParameters merges partial into dep.NewState's
	// Tyranitar.DeploymentParams, leaving other keys untouched.
	AddToDeploymentParameters(ctx context.Context, depID string, partial map[string]interface{}) error

	// Query lists deployments matching the given filter, newest first.
	Query(ctx context.Context, q Query) ([]*maestro.Deployment, error)
}

// Query is the filter set accepted by GET /deployments (spec.md §6).
type Query struct {
	Application string
	Environment string
	Region      string
	Status      maestro.Status
	From        int
	Size        int
	StartFrom   *time.Time
	StartTo     *time.Time
}
