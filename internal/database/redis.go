package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/config"
)

// RedisClient wraps the connection the scanner uses for its skip cache
// and pair-group registry.
type RedisClient struct {
	Client *redis.Client
}

func NewRedisConnection(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.Info("Connected to Redis")

	return &RedisClient{Client: rdb}, nil
}

func (r *RedisClient) Close() {
	if r.Client != nil {
		r.Client.Close()
		logrus.Info("Redis connection closed")
	}
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
