package controlapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/authz"
	"github.com/cuemby/warren/pkg/task"
)

type projectStatusResponse struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleCreateProject implements spec.md §6 `POST /projects/:name`.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	accountID, err := s.requireCapability(r, authz.CapProjectWrite)
	if err != nil {
		writeError(w, err)
		return
	}
	name := pathVar(r, "name")
	isAdmin, _ := r.Context().Value(ctxKeyIsAdmin).(bool)

	project, _, err := s.store.CreateProject(r.Context(), name, accountID, isAdmin)
	if err != nil {
		writeError(w, err)
		return
	}

	// Drive Creating through to Ready/Running asynchronously; the caller
	// polls GET /projects/:name for status (spec.md §8 scenario a).
	s.dispatcher.Submit(r.Context(), dispatcherSubmission(project.Name, project.ID, "create",
		task.NewRunUntilDone(project.Name, s.store, s.engine, s.optionsFor(project))))

	writeJSON(w, http.StatusAccepted, projectStatusResponse{Name: project.Name, State: "creating"})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapProject); err != nil {
		writeError(w, err)
		return
	}
	name := pathVar(r, "name")
	current, err := s.store.LoadState(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectStatusResponse{Name: name, State: current.Label()})
}

// handleDeleteProject implements spec.md §6 `DELETE /projects/:name`, which
// routes through `destroy` then `delete_project` (spec.md §4.3).
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapProjectWrite); err != nil {
		writeError(w, err)
		return
	}
	name := pathVar(r, "name")
	project, err := s.store.FindProject(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	seq := task.NewSequence(
		task.NewDestroyTask(name, s.store),
		task.NewRunUntilDone(name, s.store, s.engine, s.optionsFor(project)),
		task.NewDeleteProjectTask(name, s.store, s.store),
	)
	s.dispatcher.Submit(r.Context(), dispatcherSubmission(name, project.ID, "destroy", seq))

	writeJSON(w, http.StatusAccepted, projectStatusResponse{Name: name, State: "destroying"})
}

// handleClean implements spec.md §6 `POST /projects/:name/clean`. Build
// caches are owned by the build-archive front-end (spec.md §1 Non-goal);
// this endpoint only validates the project and capability so a future
// build-side cache can be wired behind the same authenticated route.
func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapDeploymentPush); err != nil {
		writeError(w, err)
		return
	}
	name := pathVar(r, "name")
	if _, err := s.store.FindProject(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateCustomDomain is a SPEC_FULL.md supplement: spec.md §4.6 names
// CapCustomDomain but §6's route table doesn't expose it; wiring it here
// gives the capability an actual caller.
func (s *Server) handleCreateCustomDomain(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapCustomDomain); err != nil {
		writeError(w, err)
		return
	}
	name := pathVar(r, "name")
	var body struct {
		FQDN string `json:"fqdn"`
		Cert []byte `json:"cert"`
		Key  []byte `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierrors.New(apierrors.InvalidOperation, "malformed body"))
		return
	}
	if err := s.store.CreateCustomDomain(r.Context(), name, body.FQDN, body.Cert, body.Key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
