// Package controlapi implements the control-plane HTTP API mounted at
// /projects/:name/... (spec.md §6). It is the external collaborator spec.md
// §1 calls "HTTP handler plumbing": a thin layer translating authenticated
// REST calls into pkg/gateway reads/writes and pkg/worker task submissions.
// Grounded on the teacher's pkg/api gRPC service shape (method-per-route,
// a single auth interceptor, structured request logging), adapted from
// mTLS+gRPC to Bearer/Admin-Secret HTTP using gorilla/mux, the router the
// rest of the example pack (r3e-network-service_layer) actually exercises.
package controlapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/authz"
	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/deploydriver"
	"github.com/cuemby/warren/pkg/gateway"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/task"
	"github.com/cuemby/warren/pkg/types"
	"github.com/cuemby/warren/pkg/worker"
)

// Server holds every collaborator a handler needs. It carries no mutable
// state of its own; pkg/gateway.Store is the system of record.
type Server struct {
	store      *gateway.Store
	dispatcher *worker.Dispatcher
	driver     *deploydriver.Driver
	engine     containerctx.Context
	router     *task.Router
	checker    authz.CapabilityChecker
	cfg        config.Config

	adminSecret string
}

// Config bundles Server's construction parameters.
type Config struct {
	Store       *gateway.Store
	Dispatcher  *worker.Dispatcher
	Driver      *deploydriver.Driver
	Engine      containerctx.Context
	Router      *task.Router
	Checker     authz.CapabilityChecker
	Opts        config.Config
	AdminSecret string
}

func NewServer(cfg Config) *Server {
	return &Server{
		store:       cfg.Store,
		dispatcher:  cfg.Dispatcher,
		driver:      cfg.Driver,
		engine:      cfg.Engine,
		router:      cfg.Router,
		checker:     cfg.Checker,
		cfg:         cfg.Opts,
		adminSecret: cfg.AdminSecret,
	}
}

// optionsFor builds the state.Options a project's own tasks run with,
// mirroring pkg/worker/ambulance.go's optionsFor: the bounded-attempt and
// timing fields come from process config, the project-identifying fields
// from its own record (spec.md §4.2 Options).
func (s *Server) optionsFor(project types.Project) state.Options {
	return state.Options{
		ProjectName:         project.Name,
		ContainerLabels:     map[string]string{"project": project.Name},
		ManagementPort:      s.cfg.ManagementPort,
		MaxRestartAttempts:  s.cfg.MaxRestartAttempts,
		MaxRecreateAttempts: s.cfg.MaxRecreateAttempts,
		MaxProbeAttempts:    s.cfg.MaxProbeAttempts,
		ContainerStopGrace:  s.cfg.ContainerStopGrace,
		IdleMinutes:         project.IdleMinutes,
		IdleCPUThreshold:    s.cfg.IdleCPUPerMinuteThreshold,
	}
}

// Router builds the full mux.Router for this API, including auth and
// metrics middleware (spec.md §6).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	projects := r.PathPrefix("/projects/{name}").Subrouter()
	// Middleware is registered on the subrouter, not r, so that
	// mux.CurrentRoute inside metricsMiddleware resolves to the matched leaf
	// route (e.g. "/projects/{name}/services/{svc}") rather than the
	// PathPrefix subrouter route itself.
	projects.Use(s.authMiddleware)
	projects.Use(s.metricsMiddleware)
	projects.HandleFunc("", s.handleCreateProject).Methods(http.MethodPost)
	projects.HandleFunc("", s.handleGetProject).Methods(http.MethodGet)
	projects.HandleFunc("", s.handleDeleteProject).Methods(http.MethodDelete)
	projects.HandleFunc("/clean", s.handleClean).Methods(http.MethodPost)
	projects.HandleFunc("/domains", s.handleCreateCustomDomain).Methods(http.MethodPost)

	projects.HandleFunc("/services/{svc}", s.handleCreateService).Methods(http.MethodPost)
	projects.HandleFunc("/services/{svc}", s.handleGetService).Methods(http.MethodGet)
	projects.HandleFunc("/services/{svc}", s.handleDeleteService).Methods(http.MethodDelete)
	projects.HandleFunc("/services/{svc}/resources", s.handleListResources).Methods(http.MethodGet)
	projects.HandleFunc("/services/{svc}/resources/{type}", s.handleDeleteResource).Methods(http.MethodDelete)

	projects.HandleFunc("/deployments", s.handleListDeployments).Methods(http.MethodGet)
	projects.HandleFunc("/deployments/{id}", s.handleGetDeployment).Methods(http.MethodGet)
	projects.HandleFunc("/deployments/{id}", s.handleStopDeployment).Methods(http.MethodDelete)
	projects.HandleFunc("/deployments/{id}", s.handleStartDeployment).Methods(http.MethodPut)
	projects.HandleFunc("/deployments/{id}/logs", s.handleBatchLogs).Methods(http.MethodGet)
	projects.HandleFunc("/ws/deployments/{id}/logs", s.handleStreamLogs).Methods(http.MethodGet)

	return r
}

func pathVar(r *http.Request, key string) string { return mux.Vars(r)[key] }

// dispatcherSubmission builds a worker.Submission for a fire-and-forget task;
// the caller learns the outcome from the event bus (spec.md §4.7), not the
// HTTP response, matching the 202-Accepted-then-poll shape spec.md §8
// scenario (a) exercises.
func dispatcherSubmission(projectName, projectID, kind string, t task.Task) worker.Submission {
	return worker.Submission{ProjectName: projectName, ProjectID: projectID, Kind: kind, Task: t}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apiErr, ok := apierrors.As(err); ok {
		status = apiErr.HTTPStatus()
	}
	http.Error(w, err.Error(), status)
}

