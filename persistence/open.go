package persistence

import (
	"fmt"

	"github.com/zero-day-ai/gami/config"
)

// Open creates the backend selected by cfg. It returns nil for
// config.BackendNone.
func Open(cfg *config.PersistenceConfig) (Backend, error) {
	switch backend := cfg.GetBackend(); backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	case config.BackendBadger:
		return NewBadgerBackend(BadgerOptions{
			Path:   cfg.GetPath(),
			Prefix: cfg.GetPrefix(),
		})
	case config.BackendRedis:
		return NewRedisBackend(RedisOptions{
			URL:    cfg.RedisURL,
			Prefix: cfg.GetPrefix(),
		})
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", backend)
	}
}
