package geo

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type countingProvider struct {
	calls atomic.Int32
	loc   Location
	err   error
}

func (p *countingProvider) Lookup(context.Context, string) (Location, error) {
	p.calls.Add(1)
	return p.loc, p.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (Location, bool, error) {
	return Location{}, false, errors.New("cache offline")
}

func (brokenCache) Set(context.Context, string, Location, time.Duration) error {
	return errors.New("cache offline")
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestResolveLocalShortcut(t *testing.T) {
	provider := &countingProvider{loc: NewLocation("X", "Y")}
	cache := NewMemoryCache()
	r := NewResolver(quietLogger(), provider, cache, time.Hour)

	for _, ip := range []string{"127.0.0.1", "::1", "10.0.0.5", "192.168.1.20"} {
		loc := r.Resolve(context.Background(), ip)
		if deref(loc.Country) != "Localhost" || deref(loc.City) != "N/A" {
			t.Errorf("Resolve(%s) = %s/%s", ip, deref(loc.Country), deref(loc.City))
		}
	}
	if provider.calls.Load() != 0 {
		t.Fatalf("provider called %d times for local addresses", provider.calls.Load())
	}
	if _, ok, _ := cache.Get(context.Background(), "127.0.0.1"); ok {
		t.Fatal("local address was cached")
	}
}

func TestResolveCachesSuccess(t *testing.T) {
	provider := &countingProvider{loc: NewLocation("Germany", "Berlin")}
	r := NewResolver(quietLogger(), provider, NewMemoryCache(), time.Hour)

	first := r.Resolve(context.Background(), "203.0.113.7")
	second := r.Resolve(context.Background(), "203.0.113.7")

	if provider.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls.Load())
	}
	for _, loc := range []Location{first, second} {
		if deref(loc.Country) != "Germany" || deref(loc.City) != "Berlin" {
			t.Fatalf("location = %s/%s", deref(loc.Country), deref(loc.City))
		}
	}
}

func TestResolveDoesNotCacheFailure(t *testing.T) {
	provider := &countingProvider{err: errors.New("timeout")}
	r := NewResolver(quietLogger(), provider, NewMemoryCache(), time.Hour)

	loc := r.Resolve(context.Background(), "203.0.113.7")
	if loc.Country != nil || loc.City != nil {
		t.Fatalf("failed lookup returned %s/%s", deref(loc.Country), deref(loc.City))
	}

	provider.err = nil
	provider.loc = NewLocation("France", "Paris")
	loc = r.Resolve(context.Background(), "203.0.113.7")
	if deref(loc.Country) != "France" {
		t.Fatalf("retry country = %s", deref(loc.Country))
	}
	if provider.calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.calls.Load())
	}
}

func TestResolveSurvivesBrokenCache(t *testing.T) {
	provider := &countingProvider{loc: NewLocation("Japan", "Tokyo")}
	r := NewResolver(quietLogger(), provider, brokenCache{}, time.Hour)

	loc := r.Resolve(context.Background(), "203.0.113.7")
	if deref(loc.City) != "Tokyo" {
		t.Fatalf("city = %s", deref(loc.City))
	}
}

func TestResolveUnparsableAddress(t *testing.T) {
	provider := &countingProvider{loc: NewLocation("X", "Y")}
	r := NewResolver(quietLogger(), provider, NewMemoryCache(), time.Hour)

	for _, ip := range []string{"", "unknown"} {
		loc := r.Resolve(context.Background(), ip)
		if loc.Country != nil || loc.City != nil {
			t.Errorf("Resolve(%q) returned a location", ip)
		}
	}
	if provider.calls.Load() != 0 {
		t.Fatalf("provider called for unparsable input")
	}
}
