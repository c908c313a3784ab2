// Package auth composes the account and session building blocks into the
// operations a front end actually calls: register, log in, authorize,
// update profile, log out. Each operation wires the credential verifier,
// session service, access gate, concurrency guard and anti-forgery
// service together and applies the masking rules that keep failure
// responses from leaking account existence.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/trustcore/trustcore/credential"
	"github.com/trustcore/trustcore/csrf"
	"github.com/trustcore/trustcore/gate"
	"github.com/trustcore/trustcore/guard"
	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/principal"
	"github.com/trustcore/trustcore/session"
)

const notifyTimeout = 5 * time.Second

// Deps holds all dependencies for the Service.
type Deps struct {
	Principals principal.Repo
	Sessions   *session.Service
	Gate       *gate.Gate
	Guard      *guard.Guard
	CSRF       *csrf.Service
	Verifier   *credential.Verifier
	Notifier   Notifier
}

// LoginResult is what a successful login hands back to the transport
// layer: the session, its anti-forgery token and the principal.
type LoginResult struct {
	Session   *session.Session
	CSRFToken string
	Principal *principal.Principal
}

// Service provides the account and session operations.
type Service struct {
	deps    Deps
	nowTime func() time.Time
	log     zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the service logger
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService initializes the auth Service with required dependencies.
func NewService(deps Deps, options ...ServiceOption) (*Service, error) {
	if deps.Principals == nil {
		return nil, errors.New("[auth.NewService] Principals repo is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("[auth.NewService] Sessions service is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("[auth.NewService] Gate is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("[auth.NewService] Guard is required")
	}
	if deps.CSRF == nil {
		return nil, errors.New("[auth.NewService] CSRF service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("[auth.NewService] Verifier is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(zerolog.Nop())
	}

	s := &Service{
		deps:    deps,
		nowTime: time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Register creates a new active principal with a hashed secret. The
// login is normalized before the uniqueness check so case and whitespace
// variants of a taken login are rejected the same way.
func (s *Service) Register(ctx context.Context, login, secret string, roles []principal.Role) (*principal.Principal, error) {
	login = principal.NormalizeLogin(login)
	if err := ValidateLogin(login); err != nil {
		return nil, err
	}
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}

	hash, err := s.deps.Verifier.Hash(secret)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Register]")
	}

	now := s.nowTime()
	p := &principal.Principal{
		ID:             uuid.New().String(),
		Login:          login,
		CredentialHash: hash,
		Roles:          principal.NormalizeRoles(roles),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Principals.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "[Service.Register]")
	}

	s.notify(Event{Kind: EventRegistered, Principal: p})
	return p, nil
}

// Authenticate verifies a login and secret pair. Unknown login, wrong
// secret and deactivated account all collapse into ErrInvalidCredential
// so a caller cannot probe which logins exist. The verifier still runs
// against a throwaway digest on the unknown-login path to keep the
// timing of the two failures alike.
func (s *Service) Authenticate(ctx context.Context, login, secret string) (*principal.Principal, error) {
	login = principal.NormalizeLogin(login)

	p, err := s.deps.Principals.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, interrors.ErrPrincipalNotFound) {
			s.deps.Verifier.Verify(secret, credential.DecoyDigest)
			return nil, errors.Wrap(interrors.ErrInvalidCredential, "[Service.Authenticate]")
		}
		return nil, errors.Wrap(err, "[Service.Authenticate]")
	}

	if !s.deps.Verifier.Verify(secret, p.CredentialHash) {
		return nil, errors.Wrap(interrors.ErrInvalidCredential, "[Service.Authenticate]")
	}
	if !p.Active {
		return nil, errors.Wrap(interrors.ErrInvalidCredential, "[Service.Authenticate]")
	}
	return p, nil
}

// Login authenticates the principal, replaces any existing sessions with
// a fresh one and issues a new anti-forgery token bound to it.
func (s *Service) Login(ctx context.Context, login, secret string) (*LoginResult, error) {
	p, err := s.Authenticate(ctx, login, secret)
	if err != nil {
		return nil, err
	}

	if _, err := s.deps.Sessions.RevokeAllForPrincipal(ctx, p.ID); err != nil {
		return nil, errors.Wrap(err, "[Service.Login] revoking previous sessions")
	}

	sess, err := s.deps.Sessions.Create(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login]")
	}

	csrfToken, err := s.deps.CSRF.Issue(ctx, sess.Token)
	if err != nil {
		// A session without an anti-forgery token cannot be used for
		// state changes, so undo the login rather than hand it out.
		_ = s.deps.Sessions.Revoke(ctx, sess.Token)
		return nil, errors.Wrap(err, "[Service.Login]")
	}

	return &LoginResult{Session: sess, CSRFToken: csrfToken, Principal: p}, nil
}

// SweepSessions deletes sessions idle past the TTL as of now.
func (s *Service) SweepSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.deps.Sessions.Sweep(ctx, now)
}

// GetPrincipal fetches a principal by ID.
func (s *Service) GetPrincipal(ctx context.Context, id string) (*principal.Principal, error) {
	return s.deps.Principals.GetByID(ctx, id)
}

// SessionTTL is the configured sliding inactivity window.
func (s *Service) SessionTTL() time.Duration {
	return s.deps.Sessions.TTL()
}

// Status validates the token and returns the renewed session and its
// principal. Expired and unknown tokens both surface as
// ErrSessionNotFound.
func (s *Service) Status(ctx context.Context, token string) (*session.Session, *principal.Principal, error) {
	return s.deps.Sessions.Validate(ctx, token)
}

// Authorize validates the token and applies the requirement, failing
// closed on store errors.
func (s *Service) Authorize(ctx context.Context, token string, req gate.Requirement) gate.Decision {
	return s.deps.Gate.Authorize(ctx, token, req)
}

// IssueCSRF mints a fresh anti-forgery token for a live session,
// replacing any previous one. The session is validated first so tokens
// are never issued against revoked or expired sessions.
func (s *Service) IssueCSRF(ctx context.Context, sessionToken string) (string, error) {
	if _, _, err := s.deps.Sessions.Validate(ctx, sessionToken); err != nil {
		return "", errors.Wrap(err, "[Service.IssueCSRF]")
	}
	csrfToken, err := s.deps.CSRF.Issue(ctx, sessionToken)
	if err != nil {
		return "", errors.Wrap(err, "[Service.IssueCSRF]")
	}
	return csrfToken, nil
}

// VerifyCSRF checks the presented anti-forgery token for the session.
func (s *Service) VerifyCSRF(ctx context.Context, sessionToken, presented string) error {
	return s.deps.CSRF.Verify(ctx, sessionToken, presented)
}

// EndSession revokes the session and discards its anti-forgery token.
// Ending an unknown or already ended session succeeds quietly.
func (s *Service) EndSession(ctx context.Context, token string) error {
	if err := s.deps.Sessions.Revoke(ctx, token); err != nil {
		return errors.Wrap(err, "[Service.EndSession]")
	}
	if err := s.deps.CSRF.Discard(ctx, token); err != nil {
		return errors.Wrap(err, "[Service.EndSession]")
	}
	return nil
}

// UpdateProfile applies a version-checked mutation to the principal. The
// clientVersion must match the version the caller last read; a stale
// version surfaces as a guard.ConflictError carrying the fresh record.
// Credential hash, active flag and ID cannot be changed through here.
func (s *Service) UpdateProfile(ctx context.Context, id string, clientVersion int64, mutate guard.Mutator) (*principal.Principal, error) {
	updated, err := s.deps.Guard.CheckAndApply(ctx, id, clientVersion, func(p *principal.Principal) error {
		hash, active := p.CredentialHash, p.Active
		if err := mutate(p); err != nil {
			return err
		}
		p.CredentialHash = hash
		p.Active = active
		p.Login = principal.NormalizeLogin(p.Login)
		if err := ValidateLogin(p.Login); err != nil {
			return err
		}
		p.Roles = principal.NormalizeRoles(p.Roles)
		p.UpdatedAt = s.nowTime()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(Event{Kind: EventProfileUpdate, Principal: updated})
	return updated, nil
}

// ChangeSecret verifies the current secret and swaps in a new one under
// the same version check as any other mutation. All existing sessions
// are revoked so the old secret cannot keep a session alive.
func (s *Service) ChangeSecret(ctx context.Context, id string, clientVersion int64, currentSecret, newSecret string) (*principal.Principal, error) {
	if err := ValidateSecret(newSecret); err != nil {
		return nil, err
	}

	updated, err := s.deps.Guard.CheckAndApply(ctx, id, clientVersion, func(p *principal.Principal) error {
		if !s.deps.Verifier.Verify(currentSecret, p.CredentialHash) {
			return errors.Wrap(interrors.ErrInvalidCredential, "[Service.ChangeSecret]")
		}
		hash, err := s.deps.Verifier.Hash(newSecret)
		if err != nil {
			return err
		}
		p.CredentialHash = hash
		p.UpdatedAt = s.nowTime()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.deps.Sessions.RevokeAllForPrincipal(ctx, id); err != nil {
		s.log.Error().Err(err).Str("principalID", id).Msg("revoking sessions after secret change")
	}

	s.notify(Event{Kind: EventSecretChange, Principal: updated})
	return updated, nil
}

// Deactivate marks the principal inactive and revokes all its sessions.
// Tokens already issued stop validating immediately.
func (s *Service) Deactivate(ctx context.Context, id string, clientVersion int64) (*principal.Principal, error) {
	updated, err := s.deps.Guard.CheckAndApply(ctx, id, clientVersion, func(p *principal.Principal) error {
		p.Active = false
		p.UpdatedAt = s.nowTime()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.deps.Sessions.RevokeAllForPrincipal(ctx, id); err != nil {
		return nil, errors.Wrap(err, "[Service.Deactivate] revoking sessions")
	}

	s.notify(Event{Kind: EventDeactivated, Principal: updated})
	return updated, nil
}

// HardDelete removes the principal and everything hanging off it. The
// sessions go first so no window exists where a live session points at
// a deleted account.
func (s *Service) HardDelete(ctx context.Context, id string) error {
	if _, err := s.deps.Sessions.RevokeAllForPrincipal(ctx, id); err != nil {
		return errors.Wrap(err, "[Service.HardDelete] revoking sessions")
	}
	if err := s.deps.Principals.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "[Service.HardDelete]")
	}
	return nil
}

// notify delivers the event in the background. The mutation is already
// committed; a failed notification is logged, not returned.
func (s *Service) notify(event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.deps.Notifier.Notify(ctx, event); err != nil {
			s.log.Error().Err(err).Str("event", string(event.Kind)).Msg("notification failed")
		}
	}()
}
