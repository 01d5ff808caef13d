package controlapi

import (
	"net/http"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/authz"
)

// handleBatchLogs and handleStreamLogs implement spec.md §6's log routes.
// Log shipping is an explicit external collaborator (spec.md §1 Non-goals:
// "telemetry/log shipping"); these handlers authenticate and validate the
// deployment exists, then report that no log backend is wired, rather than
// silently returning an empty body a caller could mistake for "no logs yet".
func (s *Server) handleBatchLogs(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapLogs); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mustDeploymentExist(r); err != nil {
		writeError(w, err)
		return
	}
	http.Error(w, "no log backend configured", http.StatusNotImplemented)
}

func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireCapability(r, authz.CapLogs); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mustDeploymentExist(r); err != nil {
		writeError(w, err)
		return
	}
	http.Error(w, "no log backend configured", http.StatusNotImplemented)
}

func (s *Server) mustDeploymentExist(r *http.Request) error {
	_, err := s.store.GetDeployment(r.Context(), pathVar(r, "id"))
	return err
}
