package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "geo:ip:"
	redisOpTimeout = 2 * time.Second
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, ip string) (Location, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(opCtx, redisKeyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, fmt.Errorf("redis get: %w", err)
	}

	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, false, fmt.Errorf("decode cached location: %w", err)
	}
	return loc, true, nil
}

func (c *RedisCache) Set(ctx context.Context, ip string, loc Location, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return c.client.Set(opCtx, redisKeyPrefix+ip, data, ttl).Err()
}

type memoryEntry struct {
	loc       Location
	expiresAt time.Time
}

// MemoryCache is the single-process fallback used when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, ip string) (Location, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok {
		return Location{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, ip)
		return Location{}, false, nil
	}
	return e.loc, true, nil
}

func (c *MemoryCache) Set(_ context.Context, ip string, loc Location, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = memoryEntry{loc: loc, expiresAt: c.now().Add(ttl)}
	return nil
}

// Purge drops expired entries.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for ip, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, ip)
			removed++
		}
	}
	return removed
}

// StartPurger drops expired entries on every tick until ctx ends.
func (c *MemoryCache) StartPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-ctx.Done():
			return
		}
	}
}
