package principal

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

var _ Repo = (*PostgresRepo)(nil)

// PostgresRepo implements Repo on PostgreSQL. The version check in
// UpdateIfVersion is expressed as a conditional UPDATE so the compare and
// the write are a single statement.
//
// Expected schema:
//
//	CREATE TABLE principals (
//	    id              text PRIMARY KEY,
//	    login           text NOT NULL UNIQUE,
//	    credential_hash text NOT NULL,
//	    roles           text[] NOT NULL DEFAULT '{}',
//	    active          boolean NOT NULL DEFAULT true,
//	    version         bigint NOT NULL,
//	    created_at      timestamptz NOT NULL,
//	    updated_at      timestamptz NOT NULL
//	);
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo creates a Postgres-backed principal repository
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

const uniqueViolationCode = "23505"

// Create inserts a new principal row with version 1.
func (r *PostgresRepo) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		return errors.New("[PostgresRepo.Create] principal ID is required")
	}
	p.Login = NormalizeLogin(p.Login)
	p.Roles = NormalizeRoles(p.Roles)
	p.Version = 1

	_, err := r.pool.Exec(ctx, `
		INSERT INTO principals (id, login, credential_hash, roles, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now(), now())
	`, p.ID, p.Login, p.CredentialHash, rolesToStrings(p.Roles), p.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return interrors.ErrLoginTaken
		}
		return errors.Wrap(err, "[PostgresRepo.Create] insert")
	}
	return nil
}

// GetByID retrieves a principal by ID
func (r *PostgresRepo) GetByID(ctx context.Context, id string) (*Principal, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByLogin retrieves a principal by normalized login
func (r *PostgresRepo) GetByLogin(ctx context.Context, login string) (*Principal, error) {
	return r.get(ctx, `WHERE login = $1`, NormalizeLogin(login))
}

func (r *PostgresRepo) get(ctx context.Context, where string, arg any) (*Principal, error) {
	var (
		p     Principal
		roles []string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, login, credential_hash, roles, active, version, created_at, updated_at
		FROM principals `+where,
		arg,
	).Scan(&p.ID, &p.Login, &p.CredentialHash, &roles, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interrors.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[PostgresRepo.get] query")
	}
	p.Roles = stringsToRoles(roles)
	return &p, nil
}

// UpdateIfVersion performs the compare-and-write as one conditional UPDATE.
// Zero rows affected means either a stale version or a missing row; a
// follow-up existence check disambiguates.
func (r *PostgresRepo) UpdateIfVersion(ctx context.Context, p *Principal, expectedVersion int64) (*Principal, error) {
	p.Login = NormalizeLogin(p.Login)
	p.Roles = NormalizeRoles(p.Roles)

	var updated Principal
	var roles []string
	err := r.pool.QueryRow(ctx, `
		UPDATE principals
		SET login = $2,
		    credential_hash = $3,
		    roles = $4,
		    active = $5,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $6
		RETURNING id, login, credential_hash, roles, active, version, created_at, updated_at
	`, p.ID, p.Login, p.CredentialHash, rolesToStrings(p.Roles), p.Active, expectedVersion).Scan(
		&updated.ID, &updated.Login, &updated.CredentialHash, &roles,
		&updated.Active, &updated.Version, &updated.CreatedAt, &updated.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, p.ID); getErr != nil {
			return nil, getErr
		}
		return nil, interrors.ErrVersionConflict
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, interrors.ErrLoginTaken
		}
		return nil, errors.Wrap(err, "[PostgresRepo.UpdateIfVersion] update")
	}
	updated.Roles = stringsToRoles(roles)
	return &updated, nil
}

// Delete removes a principal row irreversibly
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "[PostgresRepo.Delete] delete")
	}
	if tag.RowsAffected() == 0 {
		return interrors.ErrPrincipalNotFound
	}
	return nil
}

func rolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func stringsToRoles(roles []string) []Role {
	out := make([]Role, len(roles))
	for i, r := range roles {
		out[i] = Role(r)
	}
	return out
}
