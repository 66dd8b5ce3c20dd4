package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript increments the key, sets its expiry on first use and rolls
// back when the limit would be exceeded, all in one server-side step.
var allowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return {0, n - 1}
end
return {1, n}
`)

var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisCounter is a Counter shared across outreachd processes.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures the Redis connection used for rate counters.
type RedisConfig struct {
	Addr     string `json:"addr" koanf:"addr"`
	Password string `json:"-" koanf:"password"`
	DB       int    `json:"db" koanf:"db"`
	Prefix   string `json:"prefix" koanf:"prefix"`
}

// NewRedisClient opens a client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisCounter wraps client. Keys live for two days so a counter
// survives the whole UTC day it covers.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "outreachd:rate:"
	}
	return &RedisCounter{client: client, prefix: prefix, ttl: 48 * time.Hour}
}

// Allow implements Counter.
func (c *RedisCounter) Allow(ctx context.Context, key string, limit int) (bool, int64, error) {
	res, err := allowScript.Run(ctx, c.client, []string{c.prefix + key}, limit, c.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate counter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis rate counter: unexpected reply %v", res)
	}
	return res[0] == 1, res[1], nil
}

// Release implements Counter.
func (c *RedisCounter) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.prefix + key}).Err(); err != nil {
		return fmt.Errorf("redis rate counter release: %w", err)
	}
	return nil
}
