// Package jobstore provides the durable job.Store backends.
package jobstore

import (
	"context"
	"fmt"
	"multimodal/internal/apperrors"
	"multimodal/internal/config"
	"multimodal/internal/job"
	"strings"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Defaults
const (
	DefaultDBPath      = "/data/jobs.db"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "multimodal"
)

// Config selects and configures the job store backend.
type Config struct {
	Backend       string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// LoadConfigFromEnv loads store configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Backend:       strings.ToLower(config.GetEnv("STORE_BACKEND", BackendSQLite)),
		DBPath:        config.GetEnv("DB_PATH", DefaultDBPath),
		RedisAddr:     config.GetEnv("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword: config.GetSecret("REDIS_PASSWORD"),
		RedisDB:       config.GetIntEnv("REDIS_DB", 0),
		RedisPrefix:   config.GetEnv("REDIS_PREFIX", DefaultRedisPrefix),
	}
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.RedisAddr == "" {
		c.RedisAddr = DefaultRedisAddr
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = DefaultRedisPrefix
	}
	return c
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (job.Store, error) {
	cfg = cfg.withDefaults()
	switch cfg.Backend {
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.DBPath)
	case BackendRedis:
		return NewRedis(ctx, cfg)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, apperrors.Configuration("jobstore.open", fmt.Sprintf("unknown STORE_BACKEND %q", cfg.Backend))
	}
}
