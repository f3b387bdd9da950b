package persistence

import (
	"context"
	"sync"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/cache"
)

const knowledgeCacheKey = "knowledge:snapshot"

// jsonCache is the subset of cache.RedisCache the knowledge cache needs.
type jsonCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

var _ jsonCache = (*cache.RedisCache)(nil)

// RedisKnowledgeCache shares the knowledge snapshot across processes.
type RedisKnowledgeCache struct {
	cache jsonCache
}

func NewRedisKnowledgeCache(c jsonCache) *RedisKnowledgeCache {
	return &RedisKnowledgeCache{cache: c}
}

// Get treats any cache error as a miss.
func (c *RedisKnowledgeCache) Get(ctx context.Context) ([]*domain.KnowledgeEntry, bool) {
	var entries []*domain.KnowledgeEntry
	found, err := c.cache.GetJSON(ctx, knowledgeCacheKey, &entries)
	if err != nil || !found {
		return nil, false
	}
	return entries, true
}

func (c *RedisKnowledgeCache) Set(ctx context.Context, entries []*domain.KnowledgeEntry, ttl time.Duration) error {
	if entries == nil {
		entries = []*domain.KnowledgeEntry{}
	}
	return c.cache.SetJSON(ctx, knowledgeCacheKey, entries, ttl)
}

func (c *RedisKnowledgeCache) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, knowledgeCacheKey)
}

// MemoryKnowledgeCache is the single-process snapshot cache.
type MemoryKnowledgeCache struct {
	mu        sync.RWMutex
	entries   []*domain.KnowledgeEntry
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryKnowledgeCache() *MemoryKnowledgeCache {
	return &MemoryKnowledgeCache{now: time.Now}
}

func (c *MemoryKnowledgeCache) Get(_ context.Context) ([]*domain.KnowledgeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entries == nil || c.now().After(c.expiresAt) {
		return nil, false
	}
	return c.entries, true
}

func (c *MemoryKnowledgeCache) Set(_ context.Context, entries []*domain.KnowledgeEntry, ttl time.Duration) error {
	if entries == nil {
		entries = []*domain.KnowledgeEntry{}
	}
	c.mu.Lock()
	c.entries = entries
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()
	return nil
}

func (c *MemoryKnowledgeCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}

var (
	_ out.KnowledgeCache = (*RedisKnowledgeCache)(nil)
	_ out.KnowledgeCache = (*MemoryKnowledgeCache)(nil)
)
