package datastore

import (
	"context"
	"fmt"
)

// Config holds datastore configuration
type Config struct {
	Driver string // "memory", "file", "redis"

	// File
	Dir string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisUsername string
	RedisPassword string
}

// New creates a Store implementation based on config
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(), nil

	case "file":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("storage directory is required")
		}
		return NewFile(cfg.Dir)

	case "redis":
		if cfg.RedisHost == "" {
			return nil, fmt.Errorf("redis host is required")
		}
		return NewRedis(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown datastore driver: %s", cfg.Driver)
	}
}
