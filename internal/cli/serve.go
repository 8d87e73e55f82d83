package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sdko-org/traffic-guard/internal/database"
	"github.com/sdko-org/traffic-guard/internal/detector"
	"github.com/sdko-org/traffic-guard/internal/gate"
	"github.com/sdko-org/traffic-guard/internal/geo"
	"github.com/sdko-org/traffic-guard/internal/handlers"
	httpserver "github.com/sdko-org/traffic-guard/internal/http"
	"github.com/sdko-org/traffic-guard/internal/ipaddr"
	"github.com/sdko-org/traffic-guard/internal/ratelimit"
	"github.com/sdko-org/traffic-guard/internal/reqlog"
	"github.com/sdko-org/traffic-guard/internal/store"
)

const (
	drainTimeout     = 15 * time.Second
	sweepInterval    = time.Minute
	limiterIdle      = 3 * time.Minute
	geoPurgeInterval = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, request logger and anomaly detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	log := logger.WithField("component", "serve")

	db, err := openDB()
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	geoResolver, closeGeo, err := newGeoResolver(gctx, g)
	if err != nil {
		return err
	}
	defer closeGeo()

	clientIPs, err := ipaddr.NewResolver(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	blocklist := store.NewBlocklist(db)
	cache := gate.NewCache(logger, blocklist, cfg.BlocklistCacheTTL, nil)
	if err := cache.Refresh(ctx); err != nil {
		return fmt.Errorf("initial blocklist load: %w", err)
	}

	requestLogs := store.NewRequestLogs(db)
	reqLogger, err := reqlog.New(logger, geoResolver, requestLogs, reqlog.Options{
		QueueSize: cfg.LogQueueSize,
		Workers:   cfg.LogWorkers,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.New(logger, ratelimit.Policies{
		Anonymous:     ratelimit.Policy{Name: "anonymous", Requests: cfg.AnonymousRateLimit, Per: cfg.RateLimitWindow},
		Authenticated: ratelimit.Policy{Name: "authenticated", Requests: cfg.AuthRateLimit, Per: cfg.RateLimitWindow},
	}, []byte(cfg.JWTSecret), clientIPs)

	det, err := newDetector(logger, db)
	if err != nil {
		return err
	}

	handler := buildHandler(
		gate.New(logger, cache, clientIPs),
		reqLogger,
		handlers.NewHandler(logger, requestLogs, store.NewSuspicious(db), blocklist),
		limiter,
	)
	srv, err := httpserver.New(logger, cfg, handler)
	if err != nil {
		return err
	}

	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		detector.NewScheduler(logger, det, cfg.DetectorInterval).Start(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.StartSweeper(gctx, sweepInterval, limiterIdle)
		return nil
	})

	err = g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if closeErr := reqLogger.Close(drainCtx); closeErr != nil {
		log.WithError(closeErr).Warn("Request logger did not drain before timeout")
	}
	log.Info("Shutdown complete")
	return err
}

// buildHandler layers the gate outermost so denied requests are neither
// logged nor routed.
func buildHandler(g *gate.Gate, rl *reqlog.Logger, h *handlers.Handler, limiter *ratelimit.Limiter) http.Handler {
	r := mux.NewRouter()
	handlers.RegisterRoutes(r, h, limiter.Middleware)
	return g.Middleware(rl.Middleware(r))
}

func newGeoResolver(ctx context.Context, g *errgroup.Group) (*geo.Resolver, func(), error) {
	log := logger.WithField("component", "serve")
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var provider geo.Provider
	switch cfg.GeoProvider {
	case "maxmind":
		mm, err := geo.NewMaxMindProvider(cfg.GeoMaxMindPath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { mm.Close() })
		provider = mm
	case "http", "":
		provider = geo.NewHTTPProvider(logger, cfg.GeoAPIURL, cfg.GeoAPITimeout)
	default:
		return nil, nil, fmt.Errorf("unknown GEO_PROVIDER %q", cfg.GeoProvider)
	}

	var cache geo.Cache
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { client.Close() })
		cache = geo.NewRedisCache(client)
		log.Info("Using Redis geolocation cache")
	} else {
		mem := geo.NewMemoryCache()
		g.Go(func() error {
			mem.StartPurger(ctx, geoPurgeInterval)
			return nil
		})
		cache = mem
		log.WithFields(logrus.Fields{"provider": cfg.GeoProvider}).Info("Using in-memory geolocation cache")
	}

	return geo.NewResolver(logger, provider, cache, cfg.GeoCacheTTL), closeAll, nil
}
