package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/trustcore/trustcore/guard"
	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/principal"
)

type credentialsRequest struct {
	Login  string `json:"login"`
	Secret string `json:"secret"`
}

type principalResponse struct {
	ID        string           `json:"id"`
	Login     string           `json:"login"`
	Roles     []principal.Role `json:"roles"`
	Active    bool             `json:"active"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func toPrincipalResponse(p *principal.Principal) principalResponse {
	return principalResponse{
		ID:        p.ID,
		Login:     p.Login,
		Roles:     p.Roles,
		Active:    p.Active,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// SignupHandler creates a new principal from a login and secret pair.
func (s *Server) SignupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, err := s.auth.Register(r.Context(), req.Login, req.Secret, []principal.Role{principal.RoleMember})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPrincipalResponse(p))
	}
}

// LoginHandler authenticates, sets the session cookie and returns the
// anti-forgery token the client must echo on state-changing requests.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := s.auth.Login(r.Context(), req.Login, req.Secret)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.SetSessionCookie(w, r, result.Session.Token, int(s.auth.SessionTTL().Seconds()))
		writeJSON(w, http.StatusOK, map[string]any{
			"principal": toPrincipalResponse(result.Principal),
			"csrfToken": result.CSRFToken,
			"expiresIn": int(s.auth.SessionTTL().Seconds()),
		})
	}
}

// LogoutHandler ends the session if one was presented. Always succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionTokenFromRequest(r)
		if err := s.auth.EndSession(r.Context(), token); err != nil {
			s.log.Error().Err(err).Msg("logout failed")
		}
		s.ClearSessionCookie(w, r)
		writeJSON(w, http.StatusOK, map[string]any{"loggedOut": true})
	}
}

// StatusHandler reports whether the caller holds a valid session and,
// when they do, the principal snapshot and remaining idle time. Checking
// status renews the sliding window like any other validated request.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionTokenFromRequest(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}

		sess, p, err := s.auth.Status(r.Context(), token)
		if err != nil {
			if errors.Is(err, interrors.ErrSessionNotFound) || errors.Is(err, interrors.ErrSessionExpired) {
				s.ClearSessionCookie(w, r)
				writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
				return
			}
			s.writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"principal":     toPrincipalResponse(p),
			"expiresIn":     int(sess.ExpiresIn(time.Now(), s.auth.SessionTTL()).Seconds()),
		})
	}
}

// ProfileGetHandler returns the caller's own record, version included,
// so a later update can present the version it read.
func (s *Server) ProfileGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFromContext(r.Context())
		writeJSON(w, http.StatusOK, toPrincipalResponse(p))
	}
}

type profileUpdateRequest struct {
	Version int64   `json:"version"`
	Login   *string `json:"login,omitempty"`
}

// ProfileUpdateHandler applies a version-checked update to the caller's
// record. A stale version gets 409 with the current record so the client
// can re-render and retry.
func (s *Server) ProfileUpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		caller := principalFromContext(r.Context())
		updated, err := s.auth.UpdateProfile(r.Context(), caller.ID, req.Version, func(p *principal.Principal) error {
			if req.Login != nil {
				p.Login = *req.Login
			}
			return nil
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPrincipalResponse(updated))
	}
}

type changeSecretRequest struct {
	Version       int64  `json:"version"`
	CurrentSecret string `json:"currentSecret"`
	NewSecret     string `json:"newSecret"`
}

// ChangeSecretHandler rotates the caller's secret. All sessions are
// revoked on success, this one included, so the client must log in
// again.
func (s *Server) ChangeSecretHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changeSecretRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		caller := principalFromContext(r.Context())
		if _, err := s.auth.ChangeSecret(r.Context(), caller.ID, req.Version, req.CurrentSecret, req.NewSecret); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.ClearSessionCookie(w, r)
		writeJSON(w, http.StatusOK, map[string]any{"secretChanged": true})
	}
}

type deactivateRequest struct {
	Version int64 `json:"version"`
}

// DeactivateHandler marks the caller's own account inactive and ends
// every session it owns.
func (s *Server) DeactivateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deactivateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		caller := principalFromContext(r.Context())
		if _, err := s.auth.Deactivate(r.Context(), caller.ID, req.Version); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.ClearSessionCookie(w, r)
		writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors onto HTTP statuses. Version
// conflicts carry the current record so the client can recover without
// a second round trip.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var conflict *guard.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "version conflict",
			"current": toPrincipalResponse(conflict.Current),
		})
		return
	}

	switch {
	case errors.Is(err, interrors.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "invalid login or secret")
	case errors.Is(err, interrors.ErrLoginTaken):
		writeError(w, http.StatusConflict, "login already registered")
	case errors.Is(err, interrors.ErrWeakSecret):
		writeError(w, http.StatusUnprocessableEntity, "secret does not meet the policy")
	case errors.Is(err, interrors.ErrCsrfMismatch):
		writeError(w, http.StatusForbidden, "anti-forgery token mismatch")
	case errors.Is(err, interrors.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version conflict")
	case errors.Is(err, interrors.ErrSessionNotFound), errors.Is(err, interrors.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, interrors.ErrPrincipalNotFound), errors.Is(err, interrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
