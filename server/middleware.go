package server

import (
	"context"
	"net/http"

	"github.com/trustcore/trustcore/gate"
	"github.com/trustcore/trustcore/principal"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyPrincipal stores the validated principal
	ContextKeyPrincipal ContextKey = "principal"
	// ContextKeySessionToken stores the session token the request carried
	ContextKeySessionToken ContextKey = "session_token"
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) APIMiddleware(mw ...func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	chainedMiddleWare := []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.CorsMiddleware,
	}
	chainedMiddleWare = append(chainedMiddleWare, mw...)
	return chainedMiddleWare
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.env != "DEV" {
			next(w, r)
			return
		}
		logRoute(r.Method, r.URL.Path)
		next(w, r)
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// RequireSession validates the session cookie against the requirement
// and injects the principal into the request context. Store failures
// fail closed as unauthenticated.
func (s *Server) RequireSession(req gate.Requirement) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := sessionTokenFromRequest(r)
			decision := s.auth.Authorize(r.Context(), token, req)
			switch decision.Status {
			case gate.StatusUnauthenticated:
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			case gate.StatusForbidden:
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySessionToken, token)
			if decision.Principal != nil {
				ctx = context.WithValue(ctx, ContextKeyPrincipal, decision.Principal)
			}
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireGuest rejects callers that already hold a valid session.
func (s *Server) RequireGuest() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := sessionTokenFromRequest(r)
			decision := s.auth.Authorize(r.Context(), token, gate.GuestOnly())
			if decision.Status != gate.StatusAuthorized {
				writeError(w, http.StatusUnauthorized, "already authenticated")
				return
			}
			next(w, r)
		}
	}
}

// CsrfMiddleware verifies the anti-forgery header on state-changing
// requests. It runs after RequireSession, so the session token is known
// to be valid by the time the header is checked.
func (s *Server) CsrfMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionTokenFromRequest(r)
		presented := r.Header.Get(csrfHeaderName)
		if err := s.auth.VerifyCSRF(r.Context(), token, presented); err != nil {
			writeError(w, http.StatusForbidden, "anti-forgery token mismatch")
			return
		}
		next(w, r)
	}
}

func (s *Server) CorsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// No Origin header = same-origin request, no CORS headers needed
		if origin == "" {
			next(w, r)
			return
		}

		allowedOrigins := s.config.GetAllowedOrigins()
		isAllowed := allowedOrigins.IsAllowedOrigin(origin)

		// Handle preflight (OPTIONS) requests
		if r.Method == http.MethodOptions {
			if isAllowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", s.config.GetAllowedMethods())
				w.Header().Set("Access-Control-Allow-Headers", s.config.GetAllowedHeaders())
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			// If not allowed, return 200 with no CORS headers
			// Browser will block the actual request
			w.WriteHeader(http.StatusOK)
			return
		}

		if isAllowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		// If not allowed, don't set CORS headers - browser will block

		next(w, r)
	}
}

// principalFromContext returns the principal RequireSession stored, or
// nil when the route ran without it.
func principalFromContext(ctx context.Context) *principal.Principal {
	p, _ := ctx.Value(ContextKeyPrincipal).(*principal.Principal)
	return p
}
