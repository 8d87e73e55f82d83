package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sdko-org/traffic-guard/internal/ipaddr"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	policies Policies
	secret   []byte
	resolver *ipaddr.Resolver
	now      func() time.Time
	log      *logrus.Entry

	mu      sync.Mutex
	clients map[string]*client
}

func New(logger *logrus.Logger, policies Policies, secret []byte, resolver *ipaddr.Resolver) *Limiter {
	return &Limiter{
		policies: policies,
		secret:   secret,
		resolver: resolver,
		now:      time.Now,
		log:      logger.WithField("component", "rate_limiter"),
		clients:  make(map[string]*client),
	}
}

// Allow consumes one token from the bucket for ip under the given policy.
func (l *Limiter) Allow(p Policy, ip string) bool {
	key := p.Name + "|" + ip

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(float64(p.Requests)/p.Per.Seconds()), p.Requests)}
		l.clients[key] = c
	}
	c.lastSeen = l.now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := ipaddr.FromContext(r.Context())
		if !ok {
			ip = l.resolver.ClientIP(r)
		}
		id := IdentityFromRequest(r, l.secret)
		policy := l.policies.Select(id)

		if !l.Allow(policy, ip) {
			l.log.WithFields(logrus.Fields{
				"ip":     ip,
				"policy": policy.Name,
				"path":   r.URL.Path,
			}).Warn("Rate limit exceeded")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Sweep forgets clients idle for longer than idle and returns how many
// were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(idle); n > 0 {
				l.log.WithField("removed", n).Debug("Swept idle rate limit clients")
			}
		case <-ctx.Done():
			return
		}
	}
}
