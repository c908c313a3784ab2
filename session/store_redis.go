package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

var _ Store = (*RedisStore)(nil)

// RedisStore implements Store on Redis.
//
// Layout: the session blob (static fields + cached claims) lives at
// <prefix>:s:<token>; last activity lives as the member score in the
// <prefix>:activity sorted set, which doubles as the sweep index; the
// per-principal token set lives at <prefix>:p:<principal>. Freshness
// checks and reaping run inside Lua scripts so the check and the delete
// are atomic, and a key TTL acts as a storage-hygiene backstop.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store. ttl bounds the key
// TTL backstop and must match the service's session TTL.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ts"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

type redisSession struct {
	PrincipalID string `json:"principal_id"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Claims      Claims `json:"claims"`
}

const (
	touchStatusNotFound int64 = 0
	touchStatusExpired  int64 = 1
	touchStatusRenewed  int64 = 2
)

// insertScript rejects token collisions and registers the token in both
// secondary indexes in one atomic step.
const insertScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[3])
return 1
`

var insertLua = redis.NewScript(insertScript)

// touchScript checks the activity score against the cutoff and either
// renews (bump score, refresh TTL) or reaps (delete blob and indexes).
const touchScript = `
local score = redis.call("ZSCORE", KEYS[2], ARGV[1])
local data = redis.call("GET", KEYS[1])
if not score or not data then
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[1])
  return {0}
end
if tonumber(score) <= tonumber(ARGV[2]) then
  local sess = cjson.decode(data)
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[1])
  redis.call("SREM", ARGV[5] .. sess.principal_id, ARGV[1])
  return {1}
end
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {2, data, score}
`

var touchLua = redis.NewScript(touchScript)

// reapScript deletes one token only while it is still stale, so a renewal
// racing the sweep wins.
const reapScript = `
local score = redis.call("ZSCORE", KEYS[2], ARGV[1])
if score and tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
local data = redis.call("GET", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
local existed = 0
if data then
  existed = redis.call("DEL", KEYS[1])
  local sess = cjson.decode(data)
  redis.call("SREM", ARGV[3] .. sess.principal_id, ARGV[1])
end
return existed
`

var reapLua = redis.NewScript(reapScript)

func (st *RedisStore) sessionKey(token string) string { return st.prefix + ":s:" + token }
func (st *RedisStore) principalKey(id string) string  { return st.prefix + ":p:" + id }
func (st *RedisStore) principalKeyPrefix() string     { return st.prefix + ":p:" }
func (st *RedisStore) activityKey() string            { return st.prefix + ":activity" }

// Insert persists a new session, rejecting token collisions.
func (st *RedisStore) Insert(ctx context.Context, s *Session) error {
	blob, err := json.Marshal(redisSession{
		PrincipalID: s.PrincipalID,
		CreatedAtMs: s.CreatedAt.UnixMilli(),
		Claims:      s.Claims,
	})
	if err != nil {
		return errors.Wrap(err, "[RedisStore.Insert] marshal")
	}

	res, err := insertLua.Run(ctx, st.client,
		[]string{st.sessionKey(s.Token), st.principalKey(s.PrincipalID), st.activityKey()},
		blob, st.ttl.Milliseconds(), s.Token, s.LastActivityAt.UnixMilli(),
	).Int64()
	if err != nil {
		return errors.Wrap(err, "[RedisStore.Insert] script")
	}
	if res == 0 {
		return interrors.ErrTokenExists
	}
	return nil
}

// TouchIfFresh renews or reaps the session atomically inside Lua.
func (st *RedisStore) TouchIfFresh(ctx context.Context, token string, now, cutoff time.Time) (*Session, error) {
	res, err := touchLua.Run(ctx, st.client,
		[]string{st.sessionKey(token), st.activityKey()},
		token, cutoff.UnixMilli(), now.UnixMilli(), st.ttl.Milliseconds(), st.principalKeyPrefix(),
	).Slice()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisStore.TouchIfFresh] script")
	}
	if len(res) == 0 {
		return nil, errors.New("[RedisStore.TouchIfFresh] empty script response")
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, errors.New("[RedisStore.TouchIfFresh] invalid script status")
	}
	switch status {
	case touchStatusNotFound:
		return nil, interrors.ErrSessionNotFound
	case touchStatusExpired:
		return nil, interrors.ErrSessionExpired
	case touchStatusRenewed:
		if len(res) < 2 {
			return nil, errors.New("[RedisStore.TouchIfFresh] missing session payload")
		}
		blob, err := scriptBytes(res[1])
		if err != nil {
			return nil, errors.Wrap(err, "[RedisStore.TouchIfFresh] payload")
		}
		var rs redisSession
		if err := json.Unmarshal(blob, &rs); err != nil {
			return nil, errors.Wrap(err, "[RedisStore.TouchIfFresh] unmarshal")
		}
		return &Session{
			Token:          token,
			PrincipalID:    rs.PrincipalID,
			CreatedAt:      time.UnixMilli(rs.CreatedAtMs),
			LastActivityAt: now,
			Claims:         rs.Claims,
		}, nil
	default:
		return nil, errors.Errorf("[RedisStore.TouchIfFresh] unknown script status %d", status)
	}
}

// UpdateClaims rewrites the claims portion of the blob, preserving the
// remaining TTL. A session reaped in between is left deleted.
func (st *RedisStore) UpdateClaims(ctx context.Context, token string, claims Claims) error {
	key := st.sessionKey(token)

	data, err := st.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return errors.Wrap(err, "[RedisStore.UpdateClaims] get")
	}

	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return errors.Wrap(err, "[RedisStore.UpdateClaims] unmarshal")
	}
	rs.Claims = claims

	blob, err := json.Marshal(rs)
	if err != nil {
		return errors.Wrap(err, "[RedisStore.UpdateClaims] marshal")
	}

	pttl, err := st.client.PTTL(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "[RedisStore.UpdateClaims] pttl")
	}
	if pttl <= 0 {
		return nil
	}
	return errors.Wrap(st.client.Set(ctx, key, blob, pttl).Err(), "[RedisStore.UpdateClaims] set")
}

// Delete removes a session unconditionally (idempotent).
func (st *RedisStore) Delete(ctx context.Context, token string) error {
	key := st.sessionKey(token)

	data, err := st.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Still drop the activity index entry for a TTL-reaped blob.
			return errors.Wrap(st.client.ZRem(ctx, st.activityKey(), token).Err(), "[RedisStore.Delete] zrem")
		}
		return errors.Wrap(err, "[RedisStore.Delete] get")
	}

	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return errors.Wrap(err, "[RedisStore.Delete] unmarshal")
	}

	_, err = st.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, st.principalKey(rs.PrincipalID), token)
		pipe.ZRem(ctx, st.activityKey(), token)
		return nil
	})
	return errors.Wrap(err, "[RedisStore.Delete] pipeline")
}

// DeleteByPrincipal removes every session owned by the principal.
func (st *RedisStore) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	setKey := st.principalKey(principalID)

	tokens, err := st.client.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "[RedisStore.DeleteByPrincipal] smembers")
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, len(tokens))
	members := make([]interface{}, len(tokens))
	for i, token := range tokens {
		keys[i] = st.sessionKey(token)
		members[i] = token
	}

	var deleted *redis.IntCmd
	_, err = st.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, st.activityKey(), members...)
		pipe.Del(ctx, setKey)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "[RedisStore.DeleteByPrincipal] pipeline")
	}
	return deleted.Val(), nil
}

// DeleteStale reaps expired tokens found in the activity index. Each token
// is deleted by a script that re-checks staleness, so sessions renewed by
// a concurrent TouchIfFresh survive the sweep.
func (st *RedisStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tokens, err := st.client.ZRangeByScore(ctx, st.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: formatMs(cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "[RedisStore.DeleteStale] zrangebyscore")
	}

	var count int64
	for _, token := range tokens {
		deleted, err := reapLua.Run(ctx, st.client,
			[]string{st.sessionKey(token), st.activityKey()},
			token, cutoff.UnixMilli(), st.principalKeyPrefix(),
		).Int64()
		if err != nil {
			return count, errors.Wrap(err, "[RedisStore.DeleteStale] reap script")
		}
		count += deleted
	}
	return count, nil
}

func scriptBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	default:
		return nil, errors.Errorf("unexpected script payload type %T", v)
	}
}

func formatMs(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
