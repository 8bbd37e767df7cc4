// Package api is the full HTTP surface of spec.md §6, built on
// gorilla/mux named routes the way pkg/http/routes.go and
// pkg/http/transport.go register and look up the flux daemon's API:
// route names are declared once here, registered onto a *mux.Router in
// NewRouter, and handlers attached to those names in NewHandler —
// keeping the "what path" and "what handler" concerns apart exactly as
// the teacher does.
package api

import "github.com/gorilla/mux"

const (
	Ping        = "Ping"
	Healthcheck = "Healthcheck"

	GetLock    = "GetLock"
	SetLock    = "SetLock"
	ClearLock  = "ClearLock"

	ListDeployments    = "ListDeployments"
	GetDeployment      = "GetDeployment"
	GetDeploymentTasks = "GetDeploymentTasks"
	GetDeploymentLogs  = "GetDeploymentLogs"

	ListApplications = "ListApplications"
	GetApplication   = "GetApplication"
	PutApplication   = "PutApplication"

	Deploy          = "Deploy"
	Undo            = "Undo"
	Rollback        = "Rollback"
	RegisterPause   = "RegisterPause"
	UnregisterPause = "UnregisterPause"
	Resume          = "Resume"

	ListEnvironments = "ListEnvironments"
	InProgress       = "InProgress"
	Paused           = "Paused"
	AwaitingPause    = "AwaitingPause"
)

// NewRouter declares every named route of spec.md §6 without attaching
// handlers, mirroring pkg/http/transport.go's NewAPIRouter.
func NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/ping")
	r.NewRoute().Name(Healthcheck).Methods("GET").Path("/healthcheck")

	r.NewRoute().Name(GetLock).Methods("GET").Path("/lock")
	r.NewRoute().Name(SetLock).Methods("POST").Path("/lock")
	r.NewRoute().Name(ClearLock).Methods("DELETE").Path("/lock")

	r.NewRoute().Name(ListDeployments).Methods("GET").Path("/deployments")
	r.NewRoute().Name(GetDeployment).Methods("GET").Path("/deployments/{id}")
	r.NewRoute().Name(GetDeploymentTasks).Methods("GET").Path("/deployments/{id}/tasks")
	r.NewRoute().Name(GetDeploymentLogs).Methods("GET").Path("/deployments/{id}/logs")

	r.NewRoute().Name(ListApplications).Methods("GET").Path("/applications")
	r.NewRoute().Name(GetApplication).Methods("GET").Path("/applications/{app}")
	r.NewRoute().Name(PutApplication).Methods("PUT").Path("/applications/{app}")

	r.NewRoute().Name(Deploy).Methods("POST").Path("/applications/{app}/{env}/deploy")
	r.NewRoute().Name(Undo).Methods("POST").Path("/applications/{app}/{env}/undo")
	r.NewRoute().Name(Rollback).Methods("POST").Path("/applications/{app}/{env}/rollback")
	r.NewRoute().Name(RegisterPause).Methods("POST").Path("/applications/{app}/{env}/pause")
	r.NewRoute().Name(UnregisterPause).Methods("DELETE").Path("/applications/{app}/{env}/pause")
	r.NewRoute().Name(Resume).Methods("POST").Path("/applications/{app}/{env}/resume")

	r.NewRoute().Name(ListEnvironments).Methods("GET").Path("/environments")
	r.NewRoute().Name(InProgress).Methods("GET").Path("/in-progress")
	r.NewRoute().Name(Paused).Methods("GET").Path("/paused")
	r.NewRoute().Name(AwaitingPause).Methods("GET").Path("/awaiting-pause")

	return r
}
