// Package csrf issues and verifies per-session anti-forgery tokens.
// A token is bound to exactly one session, rotated whenever a new
// session is created and discarded when the session ends. Verification
// uses a constant-time comparison.
package csrf

import (
	"context"
	"crypto/subtle"

	"github.com/pkg/errors"

	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/session"
)

// TokenStore persists the session token to anti-forgery token binding.
type TokenStore interface {
	// Put stores (or replaces) the anti-forgery token for a session.
	Put(ctx context.Context, sessionToken, csrfToken string) error

	// Get returns the anti-forgery token bound to the session, or
	// errors.ErrNotFound when none exists.
	Get(ctx context.Context, sessionToken string) (string, error)

	// Delete removes the binding. Deleting a missing binding is not an
	// error.
	Delete(ctx context.Context, sessionToken string) error
}

// Service issues and verifies anti-forgery tokens.
type Service struct {
	store    TokenStore
	newToken session.TokenGenerator
}

// Option defines a function type to modify the Service instance.
type Option func(*Service)

// WithTokenGenerator overrides the token source, primarily for tests.
func WithTokenGenerator(gen session.TokenGenerator) Option {
	return func(s *Service) {
		s.newToken = gen
	}
}

// NewService initializes a csrf Service.
func NewService(store TokenStore, options ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("[csrf.NewService] token store is required")
	}
	s := &Service{store: store, newToken: session.NewToken}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Issue generates a fresh anti-forgery token for the session, replacing
// any previous one.
func (s *Service) Issue(ctx context.Context, sessionToken string) (string, error) {
	if sessionToken == "" {
		return "", errors.Wrap(interrors.ErrSessionNotFound, "[Service.Issue]")
	}
	token, err := s.newToken()
	if err != nil {
		return "", errors.Wrap(err, "[Service.Issue] token generation")
	}
	if err := s.store.Put(ctx, sessionToken, token); err != nil {
		return "", errors.Wrap(err, "[Service.Issue]")
	}
	return token, nil
}

// Verify checks the presented anti-forgery token against the one bound
// to the session. A missing binding, empty presented token or mismatch
// all return ErrCsrfMismatch; the comparison is constant time.
func (s *Service) Verify(ctx context.Context, sessionToken, presented string) error {
	if sessionToken == "" || presented == "" {
		return errors.Wrap(interrors.ErrCsrfMismatch, "[Service.Verify]")
	}
	expected, err := s.store.Get(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, interrors.ErrNotFound) {
			return errors.Wrap(interrors.ErrCsrfMismatch, "[Service.Verify] no token bound")
		}
		return errors.Wrap(err, "[Service.Verify]")
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return errors.Wrap(interrors.ErrCsrfMismatch, "[Service.Verify]")
	}
	return nil
}

// Discard removes the anti-forgery token bound to the session.
func (s *Service) Discard(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return s.store.Delete(ctx, sessionToken)
}
