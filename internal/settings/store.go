// Package settings resolves the host-level bidder settings for a publisher
package settings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/thenexusengine/tne_c1x/pkg/logger"
	"github.com/thenexusengine/tne_c1x/pkg/redis"
)

// Store resolves the flat settings (siteId, pixelId, endpoint...) a
// publisher has for a bidder. A store with nothing configured returns
// nil, nil.
type Store interface {
	BidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error)
}

// Static holds settings configured at startup, keyed by bidder code. They
// apply to every publisher.
type Static struct {
	settings map[string]map[string]string
}

// NewStatic creates a static store. Empty values are dropped.
func NewStatic(settings map[string]map[string]string) *Static {
	cleaned := make(map[string]map[string]string, len(settings))
	for bidder, values := range settings {
		kept := make(map[string]string, len(values))
		for key, value := range values {
			if value != "" {
				kept[key] = value
			}
		}
		if len(kept) > 0 {
			cleaned[strings.ToLower(bidder)] = kept
		}
	}
	return &Static{settings: cleaned}
}

// BidderSettings implements Store
func (s *Static) BidderSettings(_ context.Context, _ string, bidderCode string) (map[string]string, error) {
	values, ok := s.settings[strings.ToLower(bidderCode)]
	if !ok {
		return nil, nil
	}
	return copyMap(values), nil
}

// Redis reads settings hashes written by SetSettings
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed store
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// BidderSettings implements Store
func (r *Redis) BidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error) {
	values, err := r.client.GetSettings(ctx, publisherID, bidderCode)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	return values, err
}

// BidderSettingsReader is the database side of the settings lookup
type BidderSettingsReader interface {
	GetBidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error)
}

// Database adapts the publisher table to Store
type Database struct {
	reader BidderSettingsReader
}

// NewDatabase creates a database-backed store
func NewDatabase(reader BidderSettingsReader) *Database {
	return &Database{reader: reader}
}

// BidderSettings implements Store
func (d *Database) BidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error) {
	return d.reader.GetBidderSettings(ctx, publisherID, bidderCode)
}

// Cached reads through a Redis cache in front of a slower store
type Cached struct {
	cache  *redis.Client
	source Store
	ttl    time.Duration
}

// NewCached creates a read-through cache. Values found in source are
// written to the cache with ttl.
func NewCached(cache *redis.Client, source Store, ttl time.Duration) *Cached {
	return &Cached{cache: cache, source: source, ttl: ttl}
}

// BidderSettings implements Store
func (c *Cached) BidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error) {
	values, err := c.cache.GetSettings(ctx, publisherID, bidderCode)
	if err == nil {
		return values, nil
	}
	if !errors.Is(err, redis.ErrNotFound) {
		logger.Log.Warn().
			Err(err).
			Str("publisher_id", publisherID).
			Str("bidder", bidderCode).
			Msg("settings cache read failed")
	}

	values, err = c.source.BidderSettings(ctx, publisherID, bidderCode)
	if err != nil || len(values) == 0 {
		return values, err
	}

	if err := c.cache.SetSettings(ctx, publisherID, bidderCode, values, c.ttl); err != nil {
		logger.Log.Warn().
			Err(err).
			Str("publisher_id", publisherID).
			Str("bidder", bidderCode).
			Msg("settings cache write failed")
	}
	return values, nil
}

// Chain merges stores. Earlier stores win per key, so list the most
// specific source first and static defaults last. A failing store is
// logged and skipped.
type Chain struct {
	stores []Store
}

// NewChain creates a chain over stores, ignoring nil entries
func NewChain(stores ...Store) *Chain {
	kept := make([]Store, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Chain{stores: kept}
}

// BidderSettings implements Store
func (c *Chain) BidderSettings(ctx context.Context, publisherID, bidderCode string) (map[string]string, error) {
	var merged map[string]string
	var lastErr error
	failed := 0

	for _, s := range c.stores {
		values, err := s.BidderSettings(ctx, publisherID, bidderCode)
		if err != nil {
			failed++
			lastErr = err
			logger.Log.Warn().
				Err(err).
				Str("publisher_id", publisherID).
				Str("bidder", bidderCode).
				Msg("settings lookup failed, trying next store")
			continue
		}
		for key, value := range values {
			if merged == nil {
				merged = make(map[string]string, len(values))
			}
			if _, exists := merged[key]; !exists && value != "" {
				merged[key] = value
			}
		}
	}

	if merged == nil && failed > 0 && failed == len(c.stores) {
		return nil, lastErr
	}
	return merged, nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
