package server

import (
	"net/http"
)

// AdminPrincipalGetHandler returns any principal by ID.
func (s *Server) AdminPrincipalGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		p, err := s.auth.GetPrincipal(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPrincipalResponse(p))
	}
}

// AdminPrincipalDeleteHandler removes a principal and its sessions
// irreversibly. Admins cannot delete themselves through this route;
// self-service removal goes through deactivation.
func (s *Server) AdminPrincipalDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		caller := principalFromContext(r.Context())
		if caller != nil && caller.ID == id {
			writeError(w, http.StatusUnprocessableEntity, "cannot delete own account")
			return
		}

		if err := s.auth.HardDelete(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	}
}
