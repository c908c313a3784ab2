package session

import (
	"context"
	"time"
)

// Store defines the row-level persistence contract for sessions.
//
// Implementations must serialize writes to a given row. TouchIfFresh is
// the primitive that makes validation safe under concurrency: the expiry
// check, the lazy delete of a stale row, and the renewal of a fresh one
// are atomic with respect to each other, so a session can never validate
// successfully after being reaped.
type Store interface {
	// Insert persists a new session. Fails with ErrTokenExists when the
	// token collides with an existing row so the caller can regenerate.
	Insert(ctx context.Context, s *Session) error

	// TouchIfFresh looks up the session by token. A row whose last
	// activity is at or before cutoff is deleted and reported as
	// ErrSessionExpired; a missing row is ErrSessionNotFound; otherwise
	// last activity advances to now and the renewed row is returned.
	// The boundary is inclusive: a session idle for exactly the ttl is
	// expired, not renewed. All implementations and DeleteStale share
	// this cutoff comparison so the lazy and the swept path agree.
	TouchIfFresh(ctx context.Context, token string, now, cutoff time.Time) (*Session, error)

	// UpdateClaims rewrites the cached principal snapshot for a session.
	// Updating a missing row is not an error; the row may have been
	// reaped concurrently.
	UpdateClaims(ctx context.Context, token string, claims Claims) error

	// Delete removes the session row unconditionally. Idempotent:
	// deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteByPrincipal removes all sessions owned by the principal and
	// returns how many existed.
	DeleteByPrincipal(ctx context.Context, principalID string) (int64, error)

	// DeleteStale removes all sessions whose last activity is at or
	// before cutoff and returns the count. Safe to run concurrently with
	// Insert and TouchIfFresh.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
