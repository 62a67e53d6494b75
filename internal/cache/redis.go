// Package cache holds the Redis-backed stats cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

const statsKey = "lifecycle:stats"

// Connect initializes a Redis client from a redis:// URL or a host:port and
// verifies it with a PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := parseOptions(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func parseOptions(redisURL string) (*redis.Options, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opt, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}

// RedisStatsCache implements domain.StatsCache. Entries expire after ttl and
// are dropped after every expiration run.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatsCache creates a stats cache adapter.
func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) Get(ctx context.Context) (*domain.StatsReport, bool, error) {
	raw, err := c.client.Get(ctx, statsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var report domain.StatsReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false, fmt.Errorf("decode cached stats: %w", err)
	}
	return &report, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, report *domain.StatsReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statsKey, raw, c.ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, statsKey).Err()
}
