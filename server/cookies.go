package server

import "net/http"

const (
	// sessionCookieName is the cookie carrying the opaque session token
	sessionCookieName = "ts_session"
	// csrfHeaderName carries the anti-forgery token on state-changing requests
	csrfHeaderName = "X-Csrf-Token"
)

func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	isSecure := getScheme(r) == "https"

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	s.SetSessionCookie(w, r, "", -1)
}

// sessionTokenFromRequest reads the session token from the cookie or,
// for non-browser clients, the Authorization Bearer header. Missing
// token is returned as the empty string.
func sessionTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	const bearerPrefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > len(bearerPrefix) && authHeader[:len(bearerPrefix)] == bearerPrefix {
		return authHeader[len(bearerPrefix):]
	}
	return ""
}
