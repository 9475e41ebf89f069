package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ad-scout/internal/models"
)

// scanKeyPrefix namespaces cache entries; one key per advertiser page
const scanKeyPrefix = "scan:page:"

// ScanCache remembers per-page results across runs. Get returns only the
// pages that have an entry; missing ids are simply absent from the map.
type ScanCache interface {
	Get(ctx context.Context, pageIDs []string) (map[string]models.ScanCacheEntry, error)
	Put(ctx context.Context, entry models.ScanCacheEntry) error
}

// RedisScanCache stores entries as JSON values with a TTL
type RedisScanCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewRedisScanCache creates a scan cache on top of a Redis connection
func NewRedisScanCache(cache *RedisCache, ttl time.Duration) (*RedisScanCache, error) {
	if cache == nil {
		return nil, fmt.Errorf("redis cache is required")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisScanCache{cache: cache, ttl: ttl}, nil
}

// Get fetches entries for the given page ids in one round trip
func (s *RedisScanCache) Get(ctx context.Context, pageIDs []string) (map[string]models.ScanCacheEntry, error) {
	entries := make(map[string]models.ScanCacheEntry, len(pageIDs))
	if len(pageIDs) == 0 {
		return entries, nil
	}

	keys := make([]string, len(pageIDs))
	for i, id := range pageIDs {
		keys[i] = scanKeyPrefix + id
	}

	values, err := s.cache.Client().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scan cache: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			continue
		}
		var entry models.ScanCacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// corrupt entry, treat as a miss
			continue
		}
		entries[pageIDs[i]] = entry
	}
	return entries, nil
}

// Put writes one entry, refreshing its TTL
func (s *RedisScanCache) Put(ctx context.Context, entry models.ScanCacheEntry) error {
	if entry.PageID == "" {
		return fmt.Errorf("scan cache entry needs a page id")
	}
	if entry.ScannedAt.IsZero() {
		entry.ScannedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode scan cache entry: %w", err)
	}
	if err := s.cache.Client().Set(ctx, scanKeyPrefix+entry.PageID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write scan cache entry: %w", err)
	}
	return nil
}

// NoopScanCache is used when Redis is not configured; every lookup misses
type NoopScanCache struct{}

// Get always misses
func (NoopScanCache) Get(ctx context.Context, pageIDs []string) (map[string]models.ScanCacheEntry, error) {
	return map[string]models.ScanCacheEntry{}, nil
}

// Put drops the entry
func (NoopScanCache) Put(ctx context.Context, entry models.ScanCacheEntry) error {
	return nil
}
