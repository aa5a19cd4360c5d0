// Package store provides the persistent backends of the Secret Santa events.
package store

import (
	"fmt"

	"secretsanta/internal/config"
	"secretsanta/internal/santa"
)

type Backend interface {
	santa.Store
	Close() error
}

// Open the backend selected in the configuration
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return NewSQLite(cfg.SqlitePath)
	case "redis":
		return NewRedis(cfg.RedisURL)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}
