package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on PostgreSQL. Renewal is a single
// conditional UPDATE, so the freshness check and the timestamp bump cannot
// interleave with a concurrent sweep.
//
// Expected schema:
//
//	CREATE TABLE sessions (
//	    token            text PRIMARY KEY,
//	    principal_id     text NOT NULL,
//	    created_at       timestamptz NOT NULL,
//	    last_activity_at timestamptz NOT NULL,
//	    claims           jsonb NOT NULL DEFAULT '{}'
//	);
//	CREATE INDEX sessions_principal_id_idx ON sessions (principal_id);
//	CREATE INDEX sessions_last_activity_at_idx ON sessions (last_activity_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert persists a new session row, mapping a primary-key violation to
// ErrTokenExists so the caller can regenerate the token.
func (st *PostgresStore) Insert(ctx context.Context, s *Session) error {
	claims, err := json.Marshal(s.Claims)
	if err != nil {
		return errors.Wrap(err, "[PostgresStore.Insert] marshal claims")
	}

	_, err = st.pool.Exec(ctx, `
		INSERT INTO sessions (token, principal_id, created_at, last_activity_at, claims)
		VALUES ($1, $2, $3, $4, $5)
	`, s.Token, s.PrincipalID, s.CreatedAt, s.LastActivityAt, claims)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return interrors.ErrTokenExists
		}
		return errors.Wrap(err, "[PostgresStore.Insert] insert")
	}
	return nil
}

const uniqueViolationCode = "23505"

// TouchIfFresh renews the row with one conditional UPDATE. When no row
// matches, a conditional DELETE distinguishes (and lazily reaps) an
// expired session from a missing one. The DELETE re-checks staleness, so
// a renewal that slipped in between the two statements is not lost.
func (st *PostgresStore) TouchIfFresh(ctx context.Context, token string, now, cutoff time.Time) (*Session, error) {
	var (
		s         Session
		rawClaims []byte
	)
	err := st.pool.QueryRow(ctx, `
		UPDATE sessions
		SET last_activity_at = $2
		WHERE token = $1 AND last_activity_at > $3
		RETURNING token, principal_id, created_at, last_activity_at, claims
	`, token, now, cutoff).Scan(&s.Token, &s.PrincipalID, &s.CreatedAt, &s.LastActivityAt, &rawClaims)
	if err == nil {
		if err := json.Unmarshal(rawClaims, &s.Claims); err != nil {
			return nil, errors.Wrap(err, "[PostgresStore.TouchIfFresh] unmarshal claims")
		}
		return &s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "[PostgresStore.TouchIfFresh] update")
	}

	tag, err := st.pool.Exec(ctx, `
		DELETE FROM sessions WHERE token = $1 AND last_activity_at <= $2
	`, token, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "[PostgresStore.TouchIfFresh] reap")
	}
	if tag.RowsAffected() > 0 {
		return nil, interrors.ErrSessionExpired
	}
	return nil, interrors.ErrSessionNotFound
}

// UpdateClaims rewrites the cached principal snapshot for a session.
func (st *PostgresStore) UpdateClaims(ctx context.Context, token string, c Claims) error {
	claims, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "[PostgresStore.UpdateClaims] marshal claims")
	}
	_, err = st.pool.Exec(ctx, `UPDATE sessions SET claims = $2 WHERE token = $1`, token, claims)
	return errors.Wrap(err, "[PostgresStore.UpdateClaims] update")
}

// Delete removes a session row unconditionally (idempotent).
func (st *PostgresStore) Delete(ctx context.Context, token string) error {
	_, err := st.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return errors.Wrap(err, "[PostgresStore.Delete] delete")
}

// DeleteByPrincipal removes all sessions owned by the principal.
func (st *PostgresStore) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	tag, err := st.pool.Exec(ctx, `DELETE FROM sessions WHERE principal_id = $1`, principalID)
	if err != nil {
		return 0, errors.Wrap(err, "[PostgresStore.DeleteByPrincipal] delete")
	}
	return tag.RowsAffected(), nil
}

// DeleteStale removes expired rows with a single set-based DELETE, so the
// sweep never holds locks beyond what the statement itself needs.
func (st *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := st.pool.Exec(ctx, `DELETE FROM sessions WHERE last_activity_at <= $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "[PostgresStore.DeleteStale] delete")
	}
	return tag.RowsAffected(), nil
}
