// Package redisclient builds the shared go-redis connection pool used
// by the broker, DLQ manager, and admin surface.
package redisclient

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewharvest/pipeline/internal/config"
)

// New returns a configured *redis.Client with pooling sized off CPU
// count, falling back to a sane default when the multiplier isn't set.
func New(cfg config.RedisConfig) *redis.Client {
	poolSize := cfg.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err == nil {
			parsed.PoolSize = poolSize
			parsed.MinIdleConns = cfg.MinIdleConns
			opts = parsed
		}
	}
	return redis.NewClient(opts)
}

// Ping is a small health-check helper shared by the observability
// monitor's Redis dependency check.
func Ping(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(cctx).Err(); err != nil {
		return fmt.Errorf("redisclient: ping: %w", err)
	}
	return nil
}
