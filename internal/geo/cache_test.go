package geo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCacheRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "203.0.113.7"); ok || err != nil {
		t.Fatalf("empty cache Get = %v, %v", ok, err)
	}

	if err := cache.Set(ctx, "203.0.113.7", NewLocation("Chile", "Santiago"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("geo:ip:203.0.113.7") {
		t.Fatal("key not written with expected prefix")
	}

	loc, ok, err := cache.Get(ctx, "203.0.113.7")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if deref(loc.Country) != "Chile" || deref(loc.City) != "Santiago" {
		t.Fatalf("loc = %s/%s", deref(loc.Country), deref(loc.City))
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := cache.Get(ctx, "203.0.113.7"); ok {
		t.Fatal("entry survived its ttl")
	}
}

func TestRedisCacheCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := mr.Set("geo:ip:203.0.113.7", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := NewRedisCache(client).Get(context.Background(), "203.0.113.7"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "a", NewLocation("A", "a"), time.Minute)
	_ = cache.Set(ctx, "b", NewLocation("B", "b"), time.Hour)

	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "a"); ok {
		t.Fatal("expired entry returned")
	}
	if _, ok, _ := cache.Get(ctx, "b"); !ok {
		t.Fatal("live entry missing")
	}

	now = now.Add(2 * time.Hour)
	if removed := cache.Purge(); removed != 1 {
		t.Fatalf("Purge removed %d, want 1", removed)
	}
}
