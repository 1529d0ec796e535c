package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cellmesh/cellmesh/internal/infrastructure/cache"
)

// MemoryPrincipalCache is a process-local PrincipalCache used when no Redis
// is configured. Entries expire lazily on read.
type MemoryPrincipalCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	principal string
	expiresAt time.Time
}

func NewMemoryPrincipalCache() *MemoryPrincipalCache {
	return &MemoryPrincipalCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryPrincipalCache) Get(_ context.Context, token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, token)
		return "", false
	}
	return e.principal, true
}

func (c *MemoryPrincipalCache) Set(_ context.Context, token, principal string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = memoryEntry{principal: principal, expiresAt: time.Now().Add(ttl)}
}

// RedisPrincipalCache adapts the infrastructure RedisCache to the
// PrincipalCache contract, keying on a hash of the token rather than the
// token itself.
type RedisPrincipalCache struct {
	cache *cache.RedisCache
}

func NewRedisPrincipalCache(c *cache.RedisCache) *RedisPrincipalCache {
	return &RedisPrincipalCache{cache: c}
}

func (c *RedisPrincipalCache) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "principal:" + hex.EncodeToString(sum[:])
}

func (c *RedisPrincipalCache) Get(ctx context.Context, token string) (string, bool) {
	val, err := c.cache.Get(ctx, c.key(token))
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func (c *RedisPrincipalCache) Set(ctx context.Context, token, principal string, ttl time.Duration) {
	_ = c.cache.Set(ctx, c.key(token), principal, ttl)
}
