package config

// Backend selects where sessions and principals live.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

type StorageConfig interface {
	GetBackend() Backend
	GetPostgresDSN() string
	GetRedisAddr() string
	GetRedisPrefix() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetBackend() Backend {
	switch Backend(GetEnv("STORAGE_BACKEND", string(BackendMemory))) {
	case BackendPostgres:
		return BackendPostgres
	case BackendRedis:
		return BackendRedis
	default:
		return BackendMemory
	}
}

func (Storage) GetPostgresDSN() string {
	return GetEnv("POSTGRES_DSN", "")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "ts")
}
