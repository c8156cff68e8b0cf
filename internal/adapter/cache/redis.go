package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

const keyPrefix = "aqi:forecast:"

// Redis is a Backend shared between service replicas. Entries expire after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection with a PING.
func DialRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) Get(ctx context.Context, key string) (domain.ForecastResult, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ForecastResult{}, false, nil
	}
	if err != nil {
		return domain.ForecastResult{}, false, fmt.Errorf("redis get: %w", err)
	}
	var res domain.ForecastResult
	if err := json.Unmarshal(val, &res); err != nil {
		return domain.ForecastResult{}, false, fmt.Errorf("decode cached forecast: %w", err)
	}
	return res, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value domain.ForecastResult) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CheckReadiness pings Redis.
func (r *Redis) CheckReadiness(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
