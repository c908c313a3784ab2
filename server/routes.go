package server

import (
	"github.com/trustcore/trustcore/gate"
	"github.com/trustcore/trustcore/principal"
)

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Signup, Login & Logout
	RouteSignup     = "/auth/signup"
	RouteAuthLogin  = "/auth/login"
	RouteAuthLogout = "/auth/logout"
	RouteAuthStatus = "/auth/status"

	// Profile Routes
	RouteProfile           = "/profile"
	RouteProfileSecret     = "/profile/secret"
	RouteProfileDeactivate = "/profile/deactivate"

	// Admin Routes
	RouteAdminPrincipal = "/admin/principals/{id}"
)

func (s *Server) initRoutes() {
	// Guest-only routes: an authenticated caller gets 401 back rather
	// than a second account or session.
	s.RegisterRouteHandler("POST "+RouteSignup, ChainMiddleware(s.SignupHandler(), s.APIMiddleware(s.RequireGuest())...))
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware(s.RequireGuest())...))

	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware()...))

	// Profile routes: authenticated, state changes additionally need the
	// anti-forgery header.
	s.RegisterRouteHandler("GET "+RouteProfile, ChainMiddleware(s.ProfileGetHandler(), s.APIMiddleware(s.RequireSession(gate.AnyAuthenticated()))...))
	s.RegisterRouteHandler("PUT "+RouteProfile, ChainMiddleware(s.ProfileUpdateHandler(), s.APIMiddleware(s.RequireSession(gate.AnyAuthenticated()), s.CsrfMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteProfileSecret, ChainMiddleware(s.ChangeSecretHandler(), s.APIMiddleware(s.RequireSession(gate.AnyAuthenticated()), s.CsrfMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteProfileDeactivate, ChainMiddleware(s.DeactivateHandler(), s.APIMiddleware(s.RequireSession(gate.AnyAuthenticated()), s.CsrfMiddleware)...))

	// Admin routes
	s.RegisterRouteHandler("GET "+RouteAdminPrincipal, ChainMiddleware(s.AdminPrincipalGetHandler(), s.APIMiddleware(s.RequireSession(gate.HasRole(principal.RoleAdmin)))...))
	s.RegisterRouteHandler("DELETE "+RouteAdminPrincipal, ChainMiddleware(s.AdminPrincipalDeleteHandler(), s.APIMiddleware(s.RequireSession(gate.HasRole(principal.RoleAdmin)), s.CsrfMiddleware)...))
}
