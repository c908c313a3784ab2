package config

import (
	"strconv"
	"time"
)

type SecurityConfig interface {
	GetSessionTTL() time.Duration
	GetSweepInterval() time.Duration
	GetBcryptCost() int
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetSessionTTL is the sliding inactivity window: a session expires when
// no validated request has touched it for this long.
func (Security) GetSessionTTL() time.Duration {
	return durationSecondsEnv("SESSION_TTL_SECONDS", 600)
}

func (Security) GetSweepInterval() time.Duration {
	return durationSecondsEnv("SESSION_SWEEP_SECONDS", 60)
}

func (Security) GetBcryptCost() int {
	return intEnv("BCRYPT_COST", 12)
}

func intEnv(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(GetEnv(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func durationSecondsEnv(envVar string, defaultSeconds int) time.Duration {
	seconds := intEnv(envVar, defaultSeconds)
	if seconds <= 0 {
		seconds = defaultSeconds
	}
	return time.Duration(seconds) * time.Second
}
