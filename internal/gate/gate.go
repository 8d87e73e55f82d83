// Package gate denies requests from blocked addresses before any handler runs.
package gate

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/ipaddr"
)

type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

const ForbiddenBody = "Forbidden: your IP address has been blocked."

type Gate struct {
	cache    *Cache
	resolver *ipaddr.Resolver
	log      *logrus.Entry
}

func New(logger *logrus.Logger, cache *Cache, resolver *ipaddr.Resolver) *Gate {
	return &Gate{
		cache:    cache,
		resolver: resolver,
		log:      logger.WithField("component", "gate"),
	}
}

func (g *Gate) Decide(ctx context.Context, ip string) (Decision, error) {
	blocked, err := g.cache.Contains(ctx, ip)
	if err != nil {
		return Allow, err
	}
	if blocked {
		return Deny, nil
	}
	return Allow, nil
}

// Middleware stores the resolved client address in the request context for
// downstream handlers. Denied requests are answered here and go no further.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.resolver.ClientIP(r)

		decision, err := g.Decide(r.Context(), ip)
		if err != nil {
			g.log.WithFields(logrus.Fields{
				"client_ip": ip,
				"path":      r.URL.Path,
			}).WithError(err).Error("Blocklist refresh failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if decision == Deny {
			g.log.WithFields(logrus.Fields{
				"client_ip": ip,
				"path":      r.URL.Path,
			}).Debug("Request denied")
			http.Error(w, ForbiddenBody, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(ipaddr.WithClientIP(r.Context(), ip)))
	})
}
