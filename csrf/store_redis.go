package csrf

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

// RedisTokenStore keeps anti-forgery tokens in Redis keyed by session
// token, with a TTL so bindings never outlive a swept session by much.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisTokenStore initializes a RedisTokenStore. ttl should be at
// least the session ttl.
func NewRedisTokenStore(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisTokenStore, error) {
	if client == nil {
		return nil, errors.New("[csrf.NewRedisTokenStore] redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("[csrf.NewRedisTokenStore] ttl must be positive")
	}
	if prefix == "" {
		prefix = "ts"
	}
	return &RedisTokenStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisTokenStore) key(sessionToken string) string {
	return s.prefix + ":c:" + sessionToken
}

// Put stores the anti-forgery token for the session.
func (s *RedisTokenStore) Put(ctx context.Context, sessionToken, csrfToken string) error {
	if err := s.client.Set(ctx, s.key(sessionToken), csrfToken, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisTokenStore.Put]")
	}
	return nil
}

// Get returns the token bound to the session.
func (s *RedisTokenStore) Get(ctx context.Context, sessionToken string) (string, error) {
	token, err := s.client.Get(ctx, s.key(sessionToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errors.Wrap(interrors.ErrNotFound, "[RedisTokenStore.Get]")
		}
		return "", errors.Wrap(err, "[RedisTokenStore.Get]")
	}
	return token, nil
}

// Delete removes the binding for the session.
func (s *RedisTokenStore) Delete(ctx context.Context, sessionToken string) error {
	if err := s.client.Del(ctx, s.key(sessionToken)).Err(); err != nil {
		return errors.Wrap(err, "[RedisTokenStore.Delete]")
	}
	return nil
}
