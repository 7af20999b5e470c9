package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/marketplace-chat/internal/config"
)

// Redis wraps the go-redis client backing the realtime event bus.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client from configuration. Connectivity is not verified
// here; callers ping when they need to know (bus selection, readiness).
func NewRedis(cfg config.RedisConfig) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
