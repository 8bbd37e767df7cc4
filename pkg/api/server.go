package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/appregistry"
	"github.com/maestro-deploy/maestro/pkg/control"
	"github.com/maestro-deploy/maestro/pkg/environments"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/store"
)

// Version is overridden at link time (-ldflags "-X ... Version=...");
// the zero value is what a development build reports.
var Version = "dev"

// Server holds everything a handler needs to serve spec.md §6's HTTP
// surface. DefaultRegion backs the "process-wide default region"
// named in spec.md §5 (Global state) for endpoints whose path carries
// no region segment.
type Server struct {
	Control       *control.Control
	Store         store.Store
	Applications  *appregistry.Registry
	Logger        log.Logger
	DefaultRegion string
}

// NewHandler attaches handlers to every named route NewRouter declared,
// mirroring pkg/http/daemon/server.go's NewHandler.
func NewHandler(s *Server, r *mux.Router) http.Handler {
	r.Get(Ping).HandlerFunc(s.handlePing)
	r.Get(Healthcheck).HandlerFunc(s.handleHealthcheck)

	r.Get(GetLock).HandlerFunc(s.handleGetLock)
	r.Get(SetLock).HandlerFunc(s.handleSetLock)
	r.Get(ClearLock).HandlerFunc(s.handleClearLock)

	r.Get(ListDeployments).HandlerFunc(s.handleListDeployments)
	r.Get(GetDeployment).HandlerFunc(s.handleGetDeployment)
	r.Get(GetDeploymentTasks).HandlerFunc(s.handleGetDeploymentTasks)
	r.Get(GetDeploymentLogs).HandlerFunc(s.handleGetDeploymentLogs)

	r.Get(ListApplications).HandlerFunc(s.handleListApplications)
	r.Get(GetApplication).HandlerFunc(s.handleGetApplication)
	r.Get(PutApplication).HandlerFunc(s.handlePutApplication)

	r.Get(Deploy).HandlerFunc(s.handleDeploy)
	r.Get(Undo).HandlerFunc(s.handleUndo)
	r.Get(Rollback).HandlerFunc(s.handleRollback)
	r.Get(RegisterPause).HandlerFunc(s.handleRegisterPause)
	r.Get(UnregisterPause).HandlerFunc(s.handleUnregisterPause)
	r.Get(Resume).HandlerFunc(s.handleResume)

	r.Get(ListEnvironments).HandlerFunc(s.handleListEnvironments)
	r.Get(InProgress).HandlerFunc(s.handleInProgress)
	r.Get(Paused).HandlerFunc(s.handlePaused)
	r.Get(AwaitingPause).HandlerFunc(s.handleAwaitingPause)

	return r
}

// -- ping / healthcheck --

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Success bool   `json:"success"`
	}{"maestro", Version, true})
}

// -- lock --

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	if s.Control.Locked() {
		jsonResponse(w, struct {
			Locked bool `json:"locked"`
		}{true})
		return
	}
	writeError(w, http.StatusNotFound, errNotFound)
}

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	s.Control.Lock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearLock(w http.ResponseWriter, r *http.Request) {
	s.Control.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// -- deployments --

// deploymentSummary is what ListDeployments returns when full!=true
// (spec.md §6's `full=` query parameter): identity, timestamps, phase,
// status and flags. Tasks, Log, NewState, PreviousState,
// RequestedImageID and FailureCause are left out.
type deploymentSummary struct {
	ID          string          `json:"id"`
	Application string          `json:"application"`
	Environment string          `json:"environment"`
	Region      string          `json:"region"`
	User        string          `json:"user"`
	Message     string          `json:"message"`
	Created     time.Time       `json:"created"`
	Start       *time.Time      `json:"start,omitempty"`
	End         *time.Time      `json:"end,omitempty"`
	Phase       maestro.Phase   `json:"phase"`
	Status      maestro.Status  `json:"status"`
	Rollback    bool            `json:"rollback"`
	Silent      bool            `json:"silent"`
}

func summarize(dep *maestro.Deployment) deploymentSummary {
	return deploymentSummary{
		ID: dep.ID, Application: dep.Application, Environment: dep.Environment, Region: dep.Region,
		User: dep.User, Message: dep.Message, Created: dep.Created, Start: dep.Start, End: dep.End,
		Phase: dep.Phase, Status: dep.Status, Rollback: dep.Rollback, Silent: dep.Silent,
	}
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.Query{
		Application: q.Get("application"),
		Environment: q.Get("environment"),
		Region:      q.Get("region"),
	}

	if v := q.Get("status"); v != "" {
		query.Status = maestro.Status(v)
	}
	var err error
	if query.From, err = optionalInt(q, "from", 0); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if query.Size, err = optionalInt(q, "size", 50); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if query.StartFrom, err = optionalTime(q, "start-from"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if query.StartTo, err = optionalTime(q, "start-to"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	deps, err := s.Store.Query(r.Context(), query)
	if err != nil {
		errorResponse(w, err)
		return
	}

	if q.Get("full") == "true" {
		jsonResponse(w, deps)
		return
	}
	summaries := make([]deploymentSummary, len(deps))
	for i, dep := range deps {
		summaries[i] = summarize(dep)
	}
	jsonResponse(w, summaries)
}

func optionalInt(q map[string][]string, key string, def int) (int, error) {
	v, ok := q[key]
	if !ok || len(v) == 0 || v[0] == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "%s must be an integer", key)
	}
	return n, nil
}

func optionalTime(q map[string][]string, key string) (*time.Time, error) {
	v, ok := q[key]
	if !ok || len(v) == 0 || v[0] == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v[0])
	if err != nil {
		return nil, errors.Wrapf(errBadRequest, "%s must be an RFC3339 timestamp", key)
	}
	return &t, nil
}

func (s *Server) getDeploymentOr404(w http.ResponseWriter, r *http.Request) (*maestro.Deployment, bool) {
	id := mux.Vars(r)["id"]
	dep, err := s.Store.GetDeployment(r.Context(), id)
	if err != nil || dep == nil {
		writeError(w, http.StatusNotFound, errors.Wrapf(errNotFound, "deployment %s", id))
		return nil, false
	}
	return dep, true
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, ok := s.getDeploymentOr404(w, r)
	if !ok {
		return
	}
	jsonResponse(w, dep)
}

func (s *Server) handleGetDeploymentTasks(w http.ResponseWriter, r *http.Request) {
	dep, ok := s.getDeploymentOr404(w, r)
	if !ok {
		return
	}
	jsonResponse(w, dep.Tasks)
}

func (s *Server) handleGetDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	dep, ok := s.getDeploymentOr404(w, r)
	if !ok {
		return
	}
	since, err := optionalTime(r.URL.Query(), "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if since == nil {
		jsonResponse(w, dep.Log)
		return
	}
	out := make([]maestro.LogLine, 0, len(dep.Log))
	for _, line := range dep.Log {
		if line.Date.After(*since) {
			out = append(out, line)
		}
	}
	jsonResponse(w, out)
}

// -- applications --

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.Applications.List())
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["app"]
	app, ok := s.Applications.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.Wrapf(errNotFound, "application %s", name))
		return
	}
	jsonResponse(w, app)
}

func (s *Server) handlePutApplication(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["app"]
	var body appregistry.Application
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	body.Name = name
	if err := s.Applications.Upsert(body); err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, body)
}

// -- deploy / undo / rollback / pause / resume --

type deployRequest struct {
	AMI     string `json:"ami"`
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Silent  bool   `json:"silent"`
	User    string `json:"user"`
	Region  string `json:"region,omitempty"`
}

// region resolves the process-wide default region (spec.md §5's
// "Global state") unless the request body or an explicit ?region=
// query parameter overrides it.
func (s *Server) region(r *http.Request, bodyRegion string) string {
	if bodyRegion != "" {
		return bodyRegion
	}
	if q := r.URL.Query().Get("region"); q != "" {
		return q
	}
	return s.DefaultRegion
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body deployRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	id, err := s.Control.Begin(r.Context(), control.BeginRequest{
		Application: vars["app"],
		Environment: vars["env"],
		Region:      s.region(r, body.Region),
		User:        body.User,
		Message:     body.Message,
		ImageID:     body.AMI,
		Hash:        body.Hash,
	})
	if err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, struct {
		ID string `json:"id"`
	}{id})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := s.Control.Undo(r.Context(), vars["app"], vars["env"], s.region(r, ""), r.URL.Query().Get("user"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, struct {
		ID string `json:"id"`
	}{id})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := s.Control.Rollback(r.Context(), vars["app"], vars["env"], s.region(r, ""), r.URL.Query().Get("user"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, struct {
		ID string `json:"id"`
	}{id})
}

func (s *Server) handleRegisterPause(w http.ResponseWriter, r *http.Request) {
	key := s.keyFromVars(r)
	if !s.Control.RegisterPause(key) {
		writeError(w, http.StatusConflict, errors.New("already paused"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnregisterPause(w http.ResponseWriter, r *http.Request) {
	key := s.keyFromVars(r)
	if !s.Control.UnregisterPause(key) {
		writeError(w, http.StatusConflict, errors.New("not paused"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.Control.Resume(r.Context(), vars["app"], vars["env"], s.region(r, "")); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) keyFromVars(r *http.Request) maestro.Key {
	vars := mux.Vars(r)
	return maestro.Key{Application: vars["app"], Environment: vars["env"], Region: s.region(r, "")}
}

// -- environments / in-progress / paused / awaiting-pause --

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	out := append([]string{}, environments.All...)
	sort.Strings(out)
	jsonResponse(w, out)
}

func (s *Server) handleInProgress(w http.ResponseWriter, r *http.Request) {
	deps, err := s.deploymentsForKeys(r.Context(), s.Control.InProgress(), "")
	if err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, deps)
}

func (s *Server) handlePaused(w http.ResponseWriter, r *http.Request) {
	deps, err := s.Store.Query(r.Context(), store.Query{Status: maestro.StatusPaused})
	if err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, deps)
}

// handleAwaitingPause lists deployments whose triple has a registered
// pause but which have not yet reached a task boundary and stopped —
// the set spec.md §6 names distinctly from GET /paused.
func (s *Server) handleAwaitingPause(w http.ResponseWriter, r *http.Request) {
	deps, err := s.deploymentsForKeys(r.Context(), s.Control.PausedKeys(), maestro.StatusRunning)
	if err != nil {
		errorResponse(w, err)
		return
	}
	jsonResponse(w, deps)
}

func (s *Server) deploymentsForKeys(ctx context.Context, keys []string, status maestro.Status) ([]*maestro.Deployment, error) {
	out := make([]*maestro.Deployment, 0, len(keys))
	for _, key := range keys {
		parts := strings.SplitN(key, "/", 3)
		if len(parts) != 3 {
			continue
		}
		q := store.Query{Application: parts[0], Environment: parts[1], Region: parts[2], Size: 1}
		if status != "" {
			q.Status = status
		}
		deps, err := s.Store.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, deps...)
	}
	return out, nil
}
