// Command maestrod is the Maestro deployment orchestrator process: it
// serves the HTTP API of spec.md §6 and runs the control plane, task
// executor, external-task tracker, and health waiters in-process
// against an in-memory store, mirroring cmd/fluxd/main.go's
// flag-domain/component-domain/transport-domain structure.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/maestro-deploy/maestro/pkg/api"
	"github.com/maestro-deploy/maestro/pkg/appregistry"
	"github.com/maestro-deploy/maestro/pkg/cloud/awsfacade"
	"github.com/maestro-deploy/maestro/pkg/collab/httpcollab"
	"github.com/maestro-deploy/maestro/pkg/control"
	"github.com/maestro-deploy/maestro/pkg/executor"
	"github.com/maestro-deploy/maestro/pkg/health"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/pipeline"
	"github.com/maestro-deploy/maestro/pkg/queue"
	"github.com/maestro-deploy/maestro/pkg/registrykv"
	"github.com/maestro-deploy/maestro/pkg/store/memstore"
	"github.com/maestro-deploy/maestro/pkg/tracker"
	"github.com/maestro-deploy/maestro/pkg/transport"
)

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("maestrod", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  maestrod orchestrates Auto Scaling Group deployments.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	var (
		listenAddr      = fs.StringP("listen", "l", ":8080", "listen address for the Maestro API")
		asgardBaseURL   = fs.String("asgard-url", "", "base URL of the Asgard-style cloud façade")
		metadataURL     = fs.String("metadata-url", "", "base URL of the application metadata service")
		configEndpoints = fs.StringToString("config-url", nil, "environment=baseURL pairs for the configuration/policy services")
		defaultRegion   = fs.String("region", "us-east-1", "default region for requests whose path carries none")
	)
	fs.Parse(os.Args[1:])

	// Logger domain.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	}

	// Transport + façade + collaborator domain.
	httpClient := transport.NewClient(transport.DefaultConfig(), log.With(logger, "component", "transport"))
	facade := awsfacade.New(*asgardBaseURL, httpClient)
	collabClient := httpcollab.New(httpcollab.Endpoints{
		MetadataBaseURL: *metadataURL,
		PerEnvironment:  *configEndpoints,
	}, httpClient)

	// Persistence domain.
	st := memstore.New()

	// Registry domain: the global lock, the in-progress slot, and pause
	// flags all share the one CAS primitive (spec.md §4.6).
	inProgress := registrykv.New()
	pauses := registrykv.New()
	lock := registrykv.New()
	pauseCheck := func(key maestro.Key) bool { return pauses.Has(key.String()) }

	// Core domain: tracker, health, pipeline, executor, control.
	trk := tracker.New(facade, st, log.With(logger, "component", "tracker"))
	checker := health.NewHTTPHealthChecker(&http.Client{Timeout: 5 * time.Second})
	exec := executor.New(facade, trk, st, log.With(logger, "component", "executor"), checker, pauseCheck)
	runner := pipeline.New(st, log.With(logger, "component", "pipeline"))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	q := queue.New(stop, &wg)

	ctl := control.New(st, inProgress, pauses, lock, q, runner, exec, log.With(logger, "component", "control"),
		collabClient, collabClient, collabClient, facade)

	// API domain.
	apps := appregistry.New()
	srv := &api.Server{
		Control:       ctl,
		Store:         st,
		Applications:  apps,
		Logger:        log.With(logger, "component", "api"),
		DefaultRegion: *defaultRegion,
	}
	handler := api.NewHandler(srv, api.NewRouter())

	root := mux.NewRouter()
	root.PathPrefix("/metrics").Handler(promhttp.Handler())
	root.PathPrefix("/").Handler(handler)

	// Mechanical stuff.
	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		logger := log.With(logger, "transport", "HTTP")
		logger.Log("addr", *listenAddr)
		errc <- http.ListenAndServe(*listenAddr, root)
	}()

	// Go! Shutdown closes stop and waits for the queue's dispatch loop to
	// return. Messages still waiting in the queue are not run, and
	// deployments already dispatched are not waited for; they persist their
	// own state as they go.
	err := <-errc
	close(stop)
	wg.Wait()
	logger.Log("exit", err)
}
