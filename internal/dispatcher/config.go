package dispatcher

import (
	"multimodal/internal/config"
)

// Defaults
const (
	defaultBufferSize = 1000
	defaultWorkers    = 8
)

// Config holds configuration for the worker pool.
type Config struct {
	BufferSize int // pending jobs buffer (default: 1000)
	Workers    int // concurrent job executions (default: 8)
}

// LoadConfigFromEnv loads pool configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize: config.GetIntEnv("DISPATCHER_BUFFER_SIZE", defaultBufferSize),
		Workers:    config.GetIntEnv("DISPATCHER_WORKERS", defaultWorkers),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}
