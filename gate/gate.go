// Package gate decides whether an incoming operation may proceed, given a
// presented session token (possibly absent) and a declared requirement.
// The gate owns no state of its own: it is a pure decision function over
// the session service's answer, composable in front of any operation.
package gate

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/principal"
	"github.com/trustcore/trustcore/session"
)

// Status is the outcome of an authorization decision.
type Status int

const (
	// StatusAuthorized means the operation may proceed. Principal is set
	// unless the requirement was GuestOnly with no session presented.
	StatusAuthorized Status = iota
	// StatusUnauthenticated means no valid session was presented and the
	// requirement needs one (or a session was presented to a guest-only
	// operation).
	StatusUnauthenticated
	// StatusForbidden means the session is valid but the principal lacks
	// the required role.
	StatusForbidden
)

func (s Status) String() string {
	switch s {
	case StatusAuthorized:
		return "authorized"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decision carries the authorization outcome and, when authorized with a
// session, the validated principal.
type Decision struct {
	Status    Status
	Principal *principal.Principal
}

type requirementKind int

const (
	anyAuthenticated requirementKind = iota
	guestOnly
	hasRole
)

// Requirement declares what an operation demands of the caller.
type Requirement struct {
	kind requirementKind
	role principal.Role
}

// AnyAuthenticated requires a valid session, any role.
func AnyAuthenticated() Requirement {
	return Requirement{kind: anyAuthenticated}
}

// GuestOnly requires the absence of a valid session (e.g. login and
// registration forms).
func GuestOnly() Requirement {
	return Requirement{kind: guestOnly}
}

// HasRole requires a valid session whose principal carries the role.
func HasRole(role principal.Role) Requirement {
	return Requirement{kind: hasRole, role: role}
}

// Gate authorizes operations against the session service.
type Gate struct {
	sessions *session.Service
	log      zerolog.Logger
}

// Option defines a function type to modify the Gate instance.
type Option func(*Gate)

// WithLogger sets the gate logger
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gate) {
		g.log = log
	}
}

// New initializes a Gate over the given session service.
func New(sessions *session.Service, options ...Option) (*Gate, error) {
	if sessions == nil {
		return nil, errors.New("[gate.New] session service is required")
	}
	g := &Gate{sessions: sessions, log: zerolog.Nop()}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Authorize validates the presented token (renewing the session when
// valid) and applies the requirement. Store failures and timeouts fail
// closed: the caller is treated as unauthenticated, never as authorized.
func (g *Gate) Authorize(ctx context.Context, token string, req Requirement) Decision {
	var p *principal.Principal
	if token != "" {
		_, validated, err := g.sessions.Validate(ctx, token)
		switch {
		case err == nil:
			p = validated
		case errors.Is(err, interrors.ErrSessionNotFound), errors.Is(err, interrors.ErrSessionExpired):
			// Invalid token is equivalent to no token.
		default:
			g.log.Error().Err(err).Msg("session validation failed, failing closed")
		}
	}
	return Decide(req, p)
}

// Decide is the pure decision function: requirement and validated
// principal (nil when no valid session was presented) to decision.
func Decide(req Requirement, p *principal.Principal) Decision {
	switch req.kind {
	case guestOnly:
		if p != nil {
			return Decision{Status: StatusUnauthenticated}
		}
		return Decision{Status: StatusAuthorized}
	case anyAuthenticated:
		if p == nil {
			return Decision{Status: StatusUnauthenticated}
		}
		return Decision{Status: StatusAuthorized, Principal: p}
	case hasRole:
		if p == nil {
			return Decision{Status: StatusUnauthenticated}
		}
		if !p.HasRole(req.role) {
			return Decision{Status: StatusForbidden, Principal: p}
		}
		return Decision{Status: StatusAuthorized, Principal: p}
	default:
		return Decision{Status: StatusUnauthenticated}
	}
}
