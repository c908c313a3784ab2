package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/principal"
)

// maxTokenAttempts bounds collision retries on create. A collision is
// astronomically rare with 256-bit tokens, but it is handled, not assumed
// impossible.
const maxTokenAttempts = 3

// Service implements the session lifecycle: create, validate with
// sliding-window renewal, revoke, and sweep. The per-session state machine
// is Created -> Active (validate loops here) -> Expired or Revoked, both
// terminal; a client holding a terminal token must re-authenticate.
type Service struct {
	store      Store
	principals principal.Repo
	newToken   TokenGenerator
	ttl        time.Duration
	nowTime    func() time.Time
	log        zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithTokenGenerator overrides token generation (primarily for testing)
func WithTokenGenerator(gen TokenGenerator) ServiceOption {
	return func(s *Service) {
		s.newToken = gen
	}
}

// WithLogger sets the service logger
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService initializes a session Service with required dependencies.
func NewService(store Store, principals principal.Repo, ttl time.Duration, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("[session.NewService] store is required")
	}
	if principals == nil {
		return nil, errors.New("[session.NewService] principal repo is required")
	}
	if ttl <= 0 {
		return nil, errors.New("[session.NewService] ttl must be positive")
	}

	svc := &Service{
		store:      store,
		principals: principals,
		newToken:   NewToken,
		ttl:        ttl,
		nowTime:    time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(svc)
	}
	return svc, nil
}

// TTL returns the configured sliding-window TTL.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Create issues a new session for the principal. Fails with
// ErrPrincipalNotFound when the principal is missing or inactive; token
// collisions are retried with a fresh token.
func (s *Service) Create(ctx context.Context, principalID string) (*Session, error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, interrors.ErrPrincipalNotFound
	}

	now := s.nowTime()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Create] token generation")
		}

		sess := &Session{
			Token:          token,
			PrincipalID:    p.ID,
			CreatedAt:      now,
			LastActivityAt: now,
			Claims:         claimsFor(p),
		}
		err = s.store.Insert(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, interrors.ErrTokenExists) {
			return nil, err
		}
		s.log.Warn().Str("principal_id", p.ID).Msg("session token collision, regenerating")
	}
	return nil, errors.New("[Service.Create] exhausted token collision retries")
}

// Validate looks up the session by token and, when fresh, renews its
// sliding window and returns the owning principal. Expired rows are
// lazily reaped; a session referencing an inactive or deleted principal
// is reported as not found so a structurally valid token leaks nothing.
func (s *Service) Validate(ctx context.Context, token string) (*Session, *principal.Principal, error) {
	if token == "" {
		return nil, nil, interrors.ErrSessionNotFound
	}

	now := s.nowTime()
	sess, err := s.store.TouchIfFresh(ctx, token, now, now.Add(-s.ttl))
	if err != nil {
		return nil, nil, err
	}

	p, err := s.principals.GetByID(ctx, sess.PrincipalID)
	if err != nil {
		if errors.Is(err, interrors.ErrPrincipalNotFound) {
			// Orphaned session; reap it and mask the lookup.
			if delErr := s.store.Delete(ctx, token); delErr != nil {
				s.log.Error().Err(delErr).Msg("failed to reap orphaned session")
			}
			return nil, nil, interrors.ErrSessionNotFound
		}
		return nil, nil, err
	}
	if !p.Active {
		if delErr := s.store.Delete(ctx, token); delErr != nil {
			s.log.Error().Err(delErr).Msg("failed to reap session of inactive principal")
		}
		return nil, nil, interrors.ErrSessionNotFound
	}

	// Refresh the cached snapshot when the principal has moved on. The
	// cache is an optimization; failures renew on the next validate.
	if fresh := claimsFor(p); !claimsEqual(sess.Claims, fresh) {
		if err := s.store.UpdateClaims(ctx, token, fresh); err != nil {
			s.log.Warn().Err(err).Msg("failed to refresh session claims")
		}
		sess.Claims = fresh
	}

	return sess, p, nil
}

// Revoke deletes the session unconditionally. Revoking an unknown or
// already-revoked token is a no-op, not an error.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.Delete(ctx, token)
}

// RevokeAllForPrincipal deletes every session owned by the principal,
// returning how many were removed. Used for logout-everywhere and as
// eager cleanup on deactivation.
func (s *Service) RevokeAllForPrincipal(ctx context.Context, principalID string) (int64, error) {
	return s.store.DeleteByPrincipal(ctx, principalID)
}

// Sweep deletes all sessions idle past the TTL as of now, returning the
// count. Designed for periodic invocation by an external scheduler; safe
// to run concurrently with Create and Validate.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.store.DeleteStale(ctx, now.Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info().Int64("count", count).Msg("swept expired sessions")
	}
	return count, nil
}
