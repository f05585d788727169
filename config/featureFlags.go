package config

import (
	"os"
	"strings"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SkipMigrations disables AutoMigrate on server startup. AutoMigrate can run
// DDL that blocks tables; run it as a separate job when this is set.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

// EmbeddedOutboxWorker runs the outbox delivery worker inside the API process
// (single-binary deployments). Production runs cmd/outbox-worker instead.
//
// Set via env:
// - OUTBOX_EMBEDDED_WORKER=true
func EmbeddedOutboxWorker() bool {
	return envBool("OUTBOX_EMBEDDED_WORKER")
}

// RateLimitEnabled turns on the Redis-backed per-client rate limiter.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimitEnabled() bool {
	return envBool("RATE_LIMIT_ENABLED")
}

func RateLimitMaxRequests() int64 {
	if n := intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600); n > 0 {
		return int64(n)
	}
	return 600
}

func RateLimitWindowSeconds() int64 {
	if n := intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60); n > 0 {
		return int64(n)
	}
	return 60
}
