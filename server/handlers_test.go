package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/trustcore/trustcore/auth"
	"github.com/trustcore/trustcore/credential"
	"github.com/trustcore/trustcore/csrf"
	"github.com/trustcore/trustcore/gate"
	"github.com/trustcore/trustcore/guard"
	"github.com/trustcore/trustcore/internal/config"
	"github.com/trustcore/trustcore/principal"
	"github.com/trustcore/trustcore/server"
	"github.com/trustcore/trustcore/session"
)

type serverFixture struct {
	principals *principal.InMemoryRepo
	service    *auth.Service
	server     *httptest.Server
	client     *http.Client
}

func setupServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{principals: principal.NewInMemoryRepo()}
	store := session.NewInMemoryStore()

	sessions, err := session.NewService(store, f.principals, config.New().GetSessionTTL())
	require.NoError(t, err)
	accessGate, err := gate.New(sessions)
	require.NoError(t, err)
	versionGuard, err := guard.New(f.principals)
	require.NoError(t, err)
	csrfService, err := csrf.NewService(csrf.NewInMemoryTokenStore())
	require.NoError(t, err)
	verifier, err := credential.NewVerifier(bcrypt.MinCost)
	require.NoError(t, err)

	f.service, err = auth.NewService(auth.Deps{
		Principals: f.principals,
		Sessions:   sessions,
		Gate:       accessGate,
		Guard:      versionGuard,
		CSRF:       csrfService,
		Verifier:   verifier,
	})
	require.NoError(t, err)

	srv, err := server.New(config.New(), f.service, zerolog.Nop())
	require.NoError(t, err)

	f.server = httptest.NewServer(srv)
	t.Cleanup(f.server.Close)

	jar := newCookieJar(t)
	f.client = &http.Client{Jar: jar}
	return f
}

func newCookieJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

func (f *serverFixture) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *serverFixture) signupAndLogin(t *testing.T) (csrfToken string, version int64) {
	t.Helper()

	resp, _ := f.doJSON(t, http.MethodPost, server.RouteSignup, map[string]string{
		"login": "alice", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.doJSON(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"login": "alice", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	csrfToken = body["csrfToken"].(string)
	principalBody := body["principal"].(map[string]any)
	version = int64(principalBody["version"].(float64))
	return csrfToken, version
}

func TestSignupAndLoginFlow(t *testing.T) {
	f := setupServerFixture(t)
	csrfToken, version := f.signupAndLogin(t)

	require.NotEmpty(t, csrfToken)
	require.Equal(t, int64(1), version)

	resp, body := f.doJSON(t, http.MethodGet, server.RouteAuthStatus, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["authenticated"])
	require.Greater(t, body["expiresIn"].(float64), float64(0))
}

func TestStatusWithoutSession(t *testing.T) {
	f := setupServerFixture(t)

	resp, body := f.doJSON(t, http.MethodGet, server.RouteAuthStatus, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["authenticated"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := setupServerFixture(t)

	resp, _ := f.doJSON(t, http.MethodPost, server.RouteSignup, map[string]string{
		"login": "alice", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, creds := range []map[string]string{
		{"login": "alice", "secret": "wrong secret 1"},
		{"login": "nobody", "secret": "sup3r secret"},
	} {
		resp, _ := f.doJSON(t, http.MethodPost, server.RouteAuthLogin, creds, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestGuestOnlyRoutesRejectAuthenticated(t *testing.T) {
	f := setupServerFixture(t)
	f.signupAndLogin(t)

	resp, _ := f.doJSON(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"login": "alice", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.doJSON(t, http.MethodPost, server.RouteSignup, map[string]string{
		"login": "bob", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProfileRequiresAuthentication(t *testing.T) {
	f := setupServerFixture(t)

	resp, _ := f.doJSON(t, http.MethodGet, server.RouteProfile, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProfileUpdateRequiresCsrfHeader(t *testing.T) {
	f := setupServerFixture(t)
	csrfToken, version := f.signupAndLogin(t)

	update := map[string]any{"version": version, "login": "alice.two"}

	resp, _ := f.doJSON(t, http.MethodPut, server.RouteProfile, update, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.doJSON(t, http.MethodPut, server.RouteProfile, update, map[string]string{"X-Csrf-Token": "forged"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := f.doJSON(t, http.MethodPut, server.RouteProfile, update, map[string]string{"X-Csrf-Token": csrfToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice.two", body["login"])
}

func TestProfileUpdateStaleVersionGets409WithCurrent(t *testing.T) {
	f := setupServerFixture(t)
	csrfToken, version := f.signupAndLogin(t)
	headers := map[string]string{"X-Csrf-Token": csrfToken}

	resp, _ := f.doJSON(t, http.MethodPut, server.RouteProfile, map[string]any{"version": version, "login": "alice.two"}, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Replay with the stale version.
	resp, body := f.doJSON(t, http.MethodPut, server.RouteProfile, map[string]any{"version": version, "login": "alice.three"}, headers)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	current := body["current"].(map[string]any)
	require.Equal(t, "alice.two", current["login"])
	require.Equal(t, float64(version+1), current["version"])
}

func TestLogout(t *testing.T) {
	f := setupServerFixture(t)
	f.signupAndLogin(t)

	resp, _ := f.doJSON(t, http.MethodPost, server.RouteAuthLogout, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.doJSON(t, http.MethodGet, server.RouteAuthStatus, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["authenticated"])
}

func TestAdminRouteForbiddenForMember(t *testing.T) {
	f := setupServerFixture(t)
	f.signupAndLogin(t)

	resp, _ := f.doJSON(t, http.MethodGet, "/admin/principals/some-id", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminCanFetchAndDeletePrincipals(t *testing.T) {
	f := setupServerFixture(t)

	resp, body := f.doJSON(t, http.MethodPost, server.RouteSignup, map[string]string{
		"login": "bob", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bobID := body["id"].(string)

	// Promote a second account to admin directly in the repo, then log in.
	verifier, err := credential.NewVerifier(bcrypt.MinCost)
	require.NoError(t, err)
	hash, err := verifier.Hash("sup3r secret")
	require.NoError(t, err)
	admin := &principal.Principal{Login: "root", Roles: []principal.Role{principal.RoleAdmin}, Active: true, CredentialHash: hash}
	require.NoError(t, f.principals.Create(context.Background(), admin))

	resp, loginBody := f.doJSON(t, http.MethodPost, server.RouteAuthLogin, map[string]string{
		"login": "root", "secret": "sup3r secret",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	adminCsrf := loginBody["csrfToken"].(string)

	resp, body = f.doJSON(t, http.MethodGet, fmt.Sprintf("/admin/principals/%s", bobID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bob", body["login"])

	resp, _ = f.doJSON(t, http.MethodDelete, fmt.Sprintf("/admin/principals/%s", bobID), nil, map[string]string{"X-Csrf-Token": adminCsrf})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.doJSON(t, http.MethodGet, fmt.Sprintf("/admin/principals/%s", bobID), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
