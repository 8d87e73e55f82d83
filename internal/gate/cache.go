package gate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source supplies the full set of blocked addresses.
type Source interface {
	ListIPs(ctx context.Context) ([]string, error)
}

type snapshot struct {
	ips         map[string]struct{}
	refreshedAt time.Time
}

// Cache is an in-process copy of the blocklist that is reloaded lazily, on
// the caller's goroutine, once it is older than ttl.
type Cache struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	log     *logrus.Entry
	current atomic.Pointer[snapshot]
	reloads singleflight.Group
}

func NewCache(logger *logrus.Logger, source Source, ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    now,
		log:    logger.WithField("component", "blocklist_cache"),
	}
}

const reloadTimeout = 10 * time.Second

// Refresh reloads the set from the source unconditionally.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.reload(ctx, true)
}

// Contains reports whether ip is blocked, refreshing first when the cached
// set is missing or expired. A failed refresh is returned to the caller.
func (c *Cache) Contains(ctx context.Context, ip string) (bool, error) {
	if c.stale() {
		if err := c.reload(ctx, false); err != nil {
			return false, err
		}
	}
	_, found := c.current.Load().ips[ip]
	return found, nil
}

// reload shares one load between concurrent callers. The load is detached
// from any single caller's cancellation; each caller stops waiting when its
// own ctx ends. Unforced reloads skip the source if a snapshot turned fresh
// while the caller was queued.
func (c *Cache) reload(ctx context.Context, force bool) error {
	ch := c.reloads.DoChan("refresh", func() (interface{}, error) {
		if !force && !c.stale() {
			return nil, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
		defer cancel()

		ips, err := c.source.ListIPs(loadCtx)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(ips))
		for _, ip := range ips {
			set[ip] = struct{}{}
		}
		c.current.Store(&snapshot{ips: set, refreshedAt: c.now()})
		c.log.WithField("count", len(set)).Debug("Blocklist cache refreshed")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) RefreshedAt() time.Time {
	if snap := c.current.Load(); snap != nil {
		return snap.refreshedAt
	}
	return time.Time{}
}

func (c *Cache) stale() bool {
	snap := c.current.Load()
	return snap == nil || c.now().Sub(snap.refreshedAt) > c.ttl
}
