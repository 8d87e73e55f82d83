// Package geo maps client addresses to a coarse country/city pair.
package geo

import (
	"context"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/ipaddr"
)

// Location holds nil fields when the address could not be resolved.
type Location struct {
	Country *string `json:"country"`
	City    *string `json:"city"`
}

func NewLocation(country, city string) Location {
	return Location{Country: &country, City: &city}
}

// Provider performs the uncached lookup, usually against a remote service.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Cache stores successful lookups. A miss is reported with ok == false and a
// nil error.
type Cache interface {
	Get(ctx context.Context, ip string) (loc Location, ok bool, err error)
	Set(ctx context.Context, ip string, loc Location, ttl time.Duration) error
}

var localLocation = NewLocation("Localhost", "N/A")

type Resolver struct {
	provider Provider
	cache    Cache
	ttl      time.Duration
	log      *logrus.Entry
}

func NewResolver(logger *logrus.Logger, provider Provider, cache Cache, ttl time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		cache:    cache,
		ttl:      ttl,
		log:      logger.WithField("component", "geo_resolver"),
	}
}

// Resolve never fails. Loopback and private addresses short-circuit without
// touching the cache; provider failures are logged and not cached so the
// next call retries.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	if ipaddr.IsLocal(ip) {
		return localLocation
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return Location{}
	}

	log := r.log.WithField("ip", ip)

	loc, ok, err := r.cache.Get(ctx, ip)
	if err != nil {
		log.WithError(err).Warn("Geo cache read failed")
	} else if ok {
		return loc
	}

	loc, err = r.provider.Lookup(ctx, ip)
	if err != nil {
		log.WithError(err).Error("Geolocation lookup failed")
		return Location{}
	}

	if err := r.cache.Set(ctx, ip, loc, r.ttl); err != nil {
		log.WithError(err).Warn("Geo cache write failed")
	}
	return loc
}
