package server

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/trustcore/trustcore/auth"
	"github.com/trustcore/trustcore/credential"
	"github.com/trustcore/trustcore/csrf"
	"github.com/trustcore/trustcore/gate"
	"github.com/trustcore/trustcore/guard"
	"github.com/trustcore/trustcore/internal/config"
	"github.com/trustcore/trustcore/principal"
	"github.com/trustcore/trustcore/session"
)

// Bootstrap wires the storage backend the config selects into a ready
// auth service. The returned cleanup closes whatever connections were
// opened; it is safe to call when nothing was.
func Bootstrap(ctx context.Context, c config.Config, logger zerolog.Logger) (*auth.Service, func(), error) {
	cleanup := func() {}

	var (
		principals principal.Repo
		store      session.Store
		csrfStore  csrf.TokenStore
	)

	switch c.GetBackend() {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, c.GetPostgresDSN())
		if err != nil {
			return nil, nil, errors.Wrap(err, "[Bootstrap] connecting to postgres")
		}
		cleanup = pool.Close
		principals = principal.NewPostgresRepo(pool)
		store = session.NewPostgresStore(pool)
		csrfStore = csrf.NewInMemoryTokenStore()

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		cleanup = func() { _ = client.Close() }
		// Principals stay in memory under the redis backend; sessions
		// are the hot path redis is there for.
		principals = principal.NewInMemoryRepo()
		store = session.NewRedisStore(client, c.GetRedisPrefix(), c.GetSessionTTL())
		redisCsrf, err := csrf.NewRedisTokenStore(client, c.GetRedisPrefix(), c.GetSessionTTL())
		if err != nil {
			cleanup()
			return nil, nil, errors.Wrap(err, "[Bootstrap] redis csrf store")
		}
		csrfStore = redisCsrf

	default:
		principals = principal.NewInMemoryRepo()
		store = session.NewInMemoryStore()
		csrfStore = csrf.NewInMemoryTokenStore()
	}

	sessions, err := session.NewService(store, principals, c.GetSessionTTL(), session.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "[Bootstrap]")
	}

	accessGate, err := gate.New(sessions, gate.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "[Bootstrap]")
	}

	versionGuard, err := guard.New(principals)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "[Bootstrap]")
	}

	csrfService, err := csrf.NewService(csrfStore)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "[Bootstrap]")
	}

	verifier, err := credential.NewVerifier(c.GetBcryptCost())
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "[Bootstrap]")
	}

	authService, err := auth.NewService(auth.Deps{
		Principals: principals,
		Sessions:   sessions,
		Gate:       accessGate,
		Guard:      versionGuard,
		CSRF:       csrfService,
		Verifier:   verifier,
		Notifier:   auth.NewLogNotifier(logger),
	}, auth.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "[Bootstrap]")
	}

	return authService, cleanup, nil
}
