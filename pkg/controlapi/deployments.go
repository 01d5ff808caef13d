package controlapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/authz"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

const defaultDeploymentListLimit = 20

// handleListDeployments implements spec.md §6 `GET /projects/:name/deployments`
// with `page`/`limit` query parameters.
func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapService); err != nil {
		writeError(w, err)
		return
	}
	projectName := pathVar(r, "name")
	serviceID, err := s.resolveDefaultServiceID(r.Context(), projectName)
	if err != nil {
		writeError(w, err)
		return
	}

	page := queryInt(r, "page", 0)
	limit := queryInt(r, "limit", defaultDeploymentListLimit)

	deployments, err := s.store.ListDeployments(r.Context(), serviceID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// resolveDefaultServiceID is a convenience for routes scoped by project+id
// only: a project's deployments route doesn't name a service, so this picks
// the service whose name equals the project's name, and reports
// ProjectNotFound when there is none. Multi-service projects aren't modelled by
// spec.md's route table, which only ever nests `:svc` under one path.
func (s *Server) resolveDefaultServiceID(ctx context.Context, projectName string) (string, error) {
	svc, ok, err := s.store.FindServiceByName(ctx, projectName, projectName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apierrors.New(apierrors.ProjectNotFound, projectName)
	}
	return svc.ID, nil
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapDeploy); err != nil {
		writeError(w, err)
		return
	}
	id := pathVar(r, "id")
	d, err := s.store.GetDeployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleStopDeployment implements spec.md §6 `DELETE /projects/:name/deployments/:id`.
func (s *Server) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapDeploy); err != nil {
		writeError(w, err)
		return
	}
	id := pathVar(r, "id")
	d, err := s.store.GetDeployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	d.State = types.DeploymentStateStopped
	d.IsNext = false
	if err := s.store.PutDeployment(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartDeployment implements spec.md §6 `PUT /projects/:name/deployments/:id`:
// promote a previously-stopped/idle deployment back to IsNext and ask the
// driver to start the project's last deployment (spec.md §4.3
// `start_idle_deploys`). The driver's StartLastDeployment always returns a
// NotReady error, so this route restarts no deployment.
func (s *Server) handleStartDeployment(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapDeploymentPush); err != nil {
		writeError(w, err)
		return
	}
	projectName := pathVar(r, "name")
	id := pathVar(r, "id")

	project, err := s.store.FindProject(r.Context(), projectName)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.store.GetDeployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	current, err := s.store.LoadState(r.Context(), projectName)
	if err != nil {
		writeError(w, err)
		return
	}
	containerID := current.ContainerID()
	if containerID == "" {
		writeError(w, apierrors.New(apierrors.ProjectNotReady, projectName))
		return
	}
	insp, err := s.engine.Inspect(r.Context(), containerID)
	if err != nil || len(insp.Networks) == 0 {
		writeError(w, apierrors.New(apierrors.ProjectUnavailable, projectName))
		return
	}

	d.IsNext = true
	if err := s.store.PutDeployment(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}

	go func() {
		ctx := context.Background()
		if err := s.driver.StartLastDeployment(ctx, project.Name); err != nil {
			log.WithDeploymentID(id).Error().Err(err).Msg("failed to resume deployment")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
