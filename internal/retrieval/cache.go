package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/cache"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// FAQCache keeps a snapshot of the active FAQ list so tier 1 does not hit
// the store on every message. Use counts in the snapshot are stale; only the
// question/answer/keyword data is read from it.
type FAQCache struct {
	source FAQSource
	client cache.Client
	logger *observability.Logger
	config FAQCacheConfig
}

// FAQSource loads the active FAQ list.
type FAQSource interface {
	ListActive(ctx context.Context) ([]*storage.FaqEntry, error)
}

// FAQCacheConfig configures the FAQ snapshot cache.
type FAQCacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Enabled   bool
}

// DefaultFAQCacheConfig returns default cache configuration.
func DefaultFAQCacheConfig() FAQCacheConfig {
	return FAQCacheConfig{
		TTL:       5 * time.Minute,
		KeyPrefix: "retrieval:faq:",
		Enabled:   true,
	}
}

// CachedFAQs is the stored snapshot.
type CachedFAQs struct {
	Entries  []*storage.FaqEntry `json:"entries"`
	CachedAt time.Time           `json:"cached_at"`
}

// NewFAQCache wraps source with a snapshot cache. A nil client disables
// caching and every call goes straight to source.
func NewFAQCache(source FAQSource, client cache.Client, logger *observability.Logger, cfg FAQCacheConfig) *FAQCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "retrieval:faq:"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &FAQCache{
		source: source,
		client: client,
		logger: logger,
		config: cfg,
	}
}

func (c *FAQCache) key() string {
	return c.config.KeyPrefix + "active"
}

// ListActive returns the cached snapshot, loading it from source on a miss.
func (c *FAQCache) ListActive(ctx context.Context) ([]*storage.FaqEntry, error) {
	if !c.config.Enabled || c.client == nil {
		return c.source.ListActive(ctx)
	}

	key := c.key()
	data, err := c.client.Get(ctx, key)
	if err == nil {
		var cached CachedFAQs
		if err := json.Unmarshal(data, &cached); err == nil {
			c.logger.Debug().Str("key", key).Int("entries", len(cached.Entries)).Msg("FAQ cache hit")
			return cached.Entries, nil
		}
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached FAQ snapshot")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache get error")
	}

	entries, err := c.source.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(CachedFAQs{Entries: entries, CachedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal FAQ snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.config.TTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache FAQ snapshot")
	}
	return entries, nil
}

// Invalidate drops the snapshot. Call it after any FAQ write.
func (c *FAQCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	c.logger.Info().Str("prefix", c.config.KeyPrefix).Msg("Invalidating FAQ cache")
	return c.client.DeleteByPrefix(ctx, c.config.KeyPrefix)
}
