// Package session owns the authoritative table of active sessions:
// creation, validation with sliding-window renewal, revocation, and expiry
// sweeping. Expiry is measured from last activity, not from creation, and
// a session that references an inactive or deleted principal is invalid
// regardless of its timestamps.
package session

import (
	"time"

	"github.com/trustcore/trustcore/principal"
)

// Claims is a denormalized snapshot of principal display data cached on
// the session row so validation does not need a join on every request.
// It is refreshed from the live principal on each successful validate.
type Claims struct {
	PrincipalID string           `json:"principal_id"`
	Login       string           `json:"login"`
	Roles       []principal.Role `json:"roles,omitempty"`
}

// Session is an authenticated grant tied to one principal, identified by
// an opaque unguessable token. The token is never logged.
type Session struct {
	Token          string    // Opaque unique token, >= 256 bits of entropy
	PrincipalID    string    // Owning principal
	CreatedAt      time.Time // Creation timestamp
	LastActivityAt time.Time // Updated on every successful validation; sole input to expiry
	Claims         Claims    // Cached principal snapshot
}

// ExpiresIn returns the remaining lifetime under the given TTL, clamped
// at zero for already-expired sessions.
func (s *Session) ExpiresIn(now time.Time, ttl time.Duration) time.Duration {
	remaining := s.LastActivityAt.Add(ttl).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func claimsFor(p *principal.Principal) Claims {
	return Claims{
		PrincipalID: p.ID,
		Login:       p.Login,
		Roles:       append([]principal.Role(nil), p.Roles...),
	}
}

func claimsEqual(a, b Claims) bool {
	if a.PrincipalID != b.PrincipalID || a.Login != b.Login || len(a.Roles) != len(b.Roles) {
		return false
	}
	for i := range a.Roles {
		if a.Roles[i] != b.Roles[i] {
			return false
		}
	}
	return true
}
