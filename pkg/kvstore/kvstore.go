// Package kvstore wraps the Redis client used for cross-process coordination.
// The only consumer-facing primitive is the keyed TTL lock that enforces
// single-flight constraints (one podcast per search-space at a time).
package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}
	return nil
}

// releaseScript deletes the key only when the caller still holds it, so a
// lock that expired and was re-acquired by someone else is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Store struct {
	client *redis.Client
}

func New(cfg Config) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewWithClient wires an existing client (tests use miniredis here).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// AcquireLock attempts SET key value NX EX ttl. Returns false when another
// holder already owns the key.
func (s *Store) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", key, err)
	}
	return ok, nil
}

// LockHolder returns the current holder value, or "" when the lock is free.
func (s *Store) LockHolder(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock %q: %w", key, err)
	}
	return value, nil
}

// ReleaseLock deletes the key only if value still holds it. Releasing a
// lock someone else re-acquired is a no-op, not an error.
func (s *Store) ReleaseLock(ctx context.Context, key, value string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key}, value).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %q: %w", key, err)
	}
	return nil
}
