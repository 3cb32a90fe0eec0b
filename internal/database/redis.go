package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/config"
)

// RedisClient wraps the go-redis client behind the forecast response cache.
type RedisClient struct {
	Client *redis.Client
	logger *logrus.Logger
}

// NewRedisConnection opens and pings a Redis client for the configured
// instance.
func NewRedisConnection(cfg config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging Redis at %s: %w", addr, err)
	}

	logger.WithField("addr", addr).Info("Connected to Redis")

	return &RedisClient{Client: rdb, logger: logger}, nil
}

func (r *RedisClient) Close() {
	if r.Client != nil {
		if err := r.Client.Close(); err != nil {
			r.logger.WithError(err).Warn("Error closing Redis connection")
			return
		}
		r.logger.Info("Redis connection closed")
	}
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
