package principal

import (
	"strings"
	"time"
)

// Role represents a role tag granted to a Principal.
type Role string

const (
	// RoleAdmin can administer other principals (deactivate, hard delete).
	RoleAdmin Role = "admin"
	// RoleMember is a regular authenticated principal.
	RoleMember Role = "member"
)

// Principal is an authenticable entity. Sessions reference a Principal but
// never own it; deactivating a Principal invalidates its sessions without
// deleting this row.
type Principal struct {
	ID             string    `json:"id,omitempty"`    // Unique identifier
	Login          string    `json:"login,omitempty"` // Unique login identifier, normalized lower-case
	CredentialHash string    `json:"-"`               // Salted one-way hash of the secret - never serialize
	Roles          []Role    `json:"roles,omitempty"` // Role tags, unique and unordered
	Active         bool      `json:"active"`          // Inactive principals cannot authenticate; their sessions are invalid
	Version        int64     `json:"version"`         // Monotonic marker, advanced on every mutation
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// NormalizeLogin canonicalizes a login identifier for storage and lookup.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// HasRole reports whether the principal carries the given role tag.
func (p *Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NormalizeRoles deduplicates role tags, preserving first-seen order.
func NormalizeRoles(roles []Role) []Role {
	seen := make(map[Role]struct{}, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Clone returns a deep copy so repo callers cannot mutate stored state.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Roles = append([]Role(nil), p.Roles...)
	return &cp
}
