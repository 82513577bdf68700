// Package redis provides the Redis-backed bidder settings cache
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultKeyPrefix namespaces settings hashes: <prefix><publisher>:<bidder>
const DefaultKeyPrefix = "tne_c1x:settings:"

// ErrNotFound is returned when no settings hash exists for a key
var ErrNotFound = errors.New("redis: settings not found")

// Client wraps a Redis connection pool
type Client struct {
	client    *redis.Client
	keyPrefix string
}

// ClientConfig holds configuration for the Redis client
type ClientConfig struct {
	// Connection pool size
	PoolSize int
	// Minimum idle connections to maintain
	MinIdleConns int
	// Maximum connection age before recycling
	MaxConnAge time.Duration
	// Timeout for establishing new connections
	DialTimeout time.Duration
	// Timeout for socket reads
	ReadTimeout time.Duration
	// Timeout for socket writes
	WriteTimeout time.Duration
	// Timeout for getting connection from pool
	PoolTimeout time.Duration
	// KeyPrefix namespaces settings keys
	KeyPrefix string
}

// DefaultClientConfig returns production-ready configuration. Settings
// lookups sit on the auction path, so socket timeouts are short.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		PoolSize:     100,
		MinIdleConns: 10,
		MaxConnAge:   30 * time.Minute,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolTimeout:  1 * time.Second,
		KeyPrefix:    DefaultKeyPrefix,
	}
}

// New creates a new Redis client from a URL with default configuration
func New(redisURL string) (*Client, error) {
	return NewWithConfig(redisURL, DefaultClientConfig())
}

// NewWithConfig creates a new Redis client with custom configuration
func NewWithConfig(redisURL string, cfg *ClientConfig) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}

	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.ConnMaxLifetime = cfg.MaxConnAge
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Settings fall through to the next store until Redis answers
		log.Warn().Err(err).Str("address", opts.Addr).Msg("Redis connection test failed")
	} else {
		log.Info().
			Str("address", opts.Addr).
			Int("pool_size", cfg.PoolSize).
			Int("min_idle", cfg.MinIdleConns).
			Msg("Redis connected with connection pooling")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Client{client: client, keyPrefix: prefix}, nil
}

// SettingsKey returns the hash key holding a publisher's settings for a bidder
func (c *Client) SettingsKey(publisherID, bidderCode string) string {
	return c.keyPrefix + publisherID + ":" + strings.ToLower(bidderCode)
}

// GetSettings returns the settings hash for a publisher and bidder
func (c *Client) GetSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error) {
	values, err := c.client.HGetAll(ctx, c.SettingsKey(publisherID, bidderCode)).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return values, nil
}

// GetSetting returns a single settings field, or "" when unset
func (c *Client) GetSetting(ctx context.Context, publisherID, bidderCode, field string) (string, error) {
	result, err := c.client.HGet(ctx, c.SettingsKey(publisherID, bidderCode), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

// SetSettings stores settings for a publisher and bidder. A positive ttl
// expires the hash so the next lookup falls through to the database.
func (c *Client) SetSettings(ctx context.Context, publisherID, bidderCode string, values map[string]string, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(values))
	for field, value := range values {
		fields[field] = value
	}

	key := c.SettingsKey(publisherID, bidderCode)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteSettings removes the settings for a publisher and bidder
func (c *Client) DeleteSettings(ctx context.Context, publisherID, bidderCode string) error {
	return c.client.Del(ctx, c.SettingsKey(publisherID, bidderCode)).Err()
}

// Ping tests the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.client.Close()
}

// PoolStats returns connection pool statistics for monitoring
func (c *Client) PoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}
