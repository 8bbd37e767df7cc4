// Package appregistry is Maestro's own record of known applications —
// distinct from pkg/collab's MetadataClient, which is the external
// metadata service consulted during preparation (get-metadata). This
// registry backs the local GET/PUT /applications surface (spec.md §6),
// the one piece of application bookkeeping the control plane itself
// owns rather than delegating to a collaborator.
package appregistry

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrInvalidName is returned by Upsert when name does not match
// ^[a-z]+$, the same grammar PUT /applications/:app rejects on (spec.md
// §6).
var ErrInvalidName = errors.New("application name must match ^[a-z]+$")

var nameRe = regexp.MustCompile(`^[a-z]+$`)

// Application is the metadata record kept per application name.
type Application struct {
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
	Contact string `json:"contact,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Registry is a mutex-guarded map of Applications, keyed by name.
type Registry struct {
	mu   sync.Mutex
	apps map[string]Application
}

func New() *Registry {
	return &Registry{apps: make(map[string]Application)}
}

// Upsert validates name and stores or replaces app, keyed on app.Name.
func (r *Registry) Upsert(app Application) error {
	if !nameRe.MatchString(app.Name) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.Name] = app
	return nil
}

// Get fetches the Application stored under name.
func (r *Registry) Get(name string) (Application, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[name]
	return app, ok
}

// List returns every known Application, sorted by name.
func (r *Registry) List() []Application {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Application, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
