package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	errs "github.com/sweetpotato0/partirag/errors"
)

// Cache implements pipeline.StepCache using Redis.
type Cache struct {
	client *redis.Client
	prefix string // Key prefix for namespacing
	ttl    time.Duration
}

// Config holds Redis configuration
type Config struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for cached step results (0 means no expiration)
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:   "localhost:6379",
		Prefix: "partirag:",
		TTL:    24 * time.Hour,
	}
}

// New creates a new Redis-backed step cache
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Cache{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

// Get returns the cached payload for key, or errors.ErrNotFound when absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("cache key %q: %w", key, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cached step: %w", err)
	}
	return data, nil
}

// Set stores the payload under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cached step: %w", err)
	}
	return nil
}

// Ping checks if Redis connection is alive
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
