// Package app wires the registry, its background schedulers and the admin
// API into one process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/discoveryd/internal/config"
	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/hostcache"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
	"github.com/MrSnakeDoc/discoveryd/internal/metrics"
	"github.com/MrSnakeDoc/discoveryd/internal/protocol/bootstrap"
	"github.com/MrSnakeDoc/discoveryd/internal/protocol/gwc"
	"github.com/MrSnakeDoc/discoveryd/internal/redis"
	"github.com/MrSnakeDoc/discoveryd/internal/scheduler"
	"github.com/MrSnakeDoc/discoveryd/internal/sources/catalog"
	"github.com/MrSnakeDoc/discoveryd/internal/sources/seedfile"
	redisstore "github.com/MrSnakeDoc/discoveryd/internal/store/redis"
	"github.com/MrSnakeDoc/discoveryd/internal/utils"
	"github.com/MrSnakeDoc/discoveryd/internal/version"
)

type stopper interface {
	Start(ctx context.Context) error
	Stop()
}

type App struct {
	cfg     *config.Config
	logger  logger.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	manager     *discovery.Manager
	hosts       *hostcache.Store
	redisClient *goredis.Client
	server      *httpserver.Server
	schedulers  []stopper
}

// New builds every component. Nothing runs until Run. Redis is optional and
// only dialed when an address is configured; ctx bounds that dial.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  log,
		clock:   clock.New(),
		metrics: metrics.New(),
	}

	hosts, err := hostcache.Open(cfg.HostCacheFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open host cache: %w", err)
	}
	a.hosts = hosts
	sinks := []discovery.HostSink{hosts}

	var store *redisstore.Store
	if cfg.RedisAddr != "" {
		client, err := redis.Connect(ctx, redis.OptionsFromConfig(cfg), log.With(logger.Component("redis")))
		if err != nil {
			a.close()
			return nil, err
		}
		a.redisClient = client
		store = redisstore.NewStore(client)
		sinks = append(sinks, store)
	} else {
		log.Info("redis address not configured, mirror disabled")
	}

	var seeds func() ([]domain.Seed, error)
	if cfg.SeedFile != "" {
		seeds = seedfile.NewLoader(cfg.SeedFile, cfg.MaxRating).Load
	}

	m, err := discovery.New(discovery.Options{
		DataDir:         cfg.DataDir,
		AccessThrottle:  cfg.AccessThrottle,
		RevivalInterval: cfg.RevivalInterval,
		MaxRating:       cfg.MaxRating,
		Drivers: discovery.Drivers{
			domain.ServiceTypeGWC:       gwc.New(a.clock),
			domain.ServiceTypeBootstrap: bootstrap.New(nil, a.clock),
		},
		Hosts:          sinks,
		RequestTimeout: cfg.RequestTimeout,
		AdvertiseAddr:  cfg.AdvertiseAddr,
		ClientID:       cfg.ClientID,
		ClientVersion:  cfg.ClientVersion,
		Seeds:          seeds,
		Clock:          a.clock,
		Logger:         log,
		Metrics:        a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.manager = m

	a.schedulers = append(a.schedulers,
		scheduler.NewPoller(m, scheduler.PollerOptions{
			Networks:       cfg.Networks,
			QueryInterval:  cfg.QueryInterval,
			UpdateInterval: cfg.UpdateInterval,
			Advertise:      cfg.AdvertiseAddr != "",
			Clock:          a.clock,
		}, log.With(logger.Component("poller"))),
		scheduler.NewSaver(m, cfg.SaveInterval, a.clock, log.With(logger.Component("saver"))),
		scheduler.NewGarbageCollector(m, hosts, scheduler.GCOptions{
			Interval:    cfg.PruneInterval,
			MaxRevivals: cfg.MaxRevivals,
			HostTTL:     cfg.HostTTL,
			Clock:       a.clock,
		}, log.With(logger.Component("gc"))),
	)
	if store != nil {
		a.schedulers = append(a.schedulers,
			scheduler.NewRedisMirror(store, m, cfg.SaveInterval, a.clock, log.With(logger.Component("mirror"))))
	}

	if cfg.ListenPort != "" {
		a.server = httpserver.New(cfg.ListenPort, deps.Deps{
			Logger:         log.With(logger.Component("http")),
			StartTime:      a.clock.Now(),
			Clock:          a.clock,
			Metrics:        a.metrics,
			Registry:       m,
			Hosts:          hosts,
			MaxRating:      cfg.MaxRating,
			AllowedCIDRS:   cfg.AllowedCIDRS,
			TrustProxy:     cfg.TrustProxy,
			RateLimitBurst: cfg.RateLimitBurst,
			RateLimitPerMn: cfg.RateLimitPerMn,
		})
	}

	return a, nil
}

// Run loads the registry, starts the schedulers and the admin API, and
// blocks until ctx is cancelled or the server fails. The registry is saved
// on the way out.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting " + version.String())
	defer a.close()

	if err := a.manager.Start(); err != nil {
		return fmt.Errorf("failed to start registry: %w", err)
	}
	if err := a.manager.Barrier(ctx); err != nil {
		return fmt.Errorf("registry did not load: %w", err)
	}
	a.logger.Info("registry loaded", loadSummary(a.manager, a.cfg.Networks)...)

	a.importCatalog()

	started := make([]stopper, 0, len(a.schedulers))
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			started[i].Stop()
		}
	}()
	for _, s := range a.schedulers {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		started = append(started, s)
	}

	errCh := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
	case runErr = <-errCh:
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			a.logger.Warn("failed to stop server", logger.Error(err))
		}
	}
	return runErr
}

func (a *App) importCatalog() {
	if a.cfg.CatalogFile == "" {
		return
	}
	seeds, err := catalog.NewLoader(a.cfg.CatalogFile).Load(a.cfg.MaxRating)
	if err != nil {
		a.logger.Warn("catalog has invalid entries", logger.Error(err))
	}
	added := a.manager.AddSeeds(seeds)
	a.logger.Info("catalog imported",
		logger.String("file", a.cfg.CatalogFile),
		logger.Int("entries", len(seeds)),
		logger.Int("added", added))
}

// close stops the registry (which saves it) and releases the stores.
func (a *App) close() {
	start := time.Now()
	if a.manager != nil {
		if !a.manager.Stop() {
			a.logger.Error("final save failed")
		}
	}

	var redisCloser, hostsCloser interface{ Close() error }
	if a.redisClient != nil {
		redisCloser = a.redisClient
	}
	if a.hosts != nil {
		hostsCloser = a.hosts
	}
	if err := utils.CloseAll(redisCloser, hostsCloser); err != nil {
		a.logger.Warn("failed to close stores", logger.Error(err))
	}
	a.logger.Info("discoveryd stopped", logger.Duration("shutdown", time.Since(start)))
}

type serviceCounter interface {
	Count(filter domain.NetworkType) int
}

// loadSummary reports every service and those working on the polled networks.
func loadSummary(reg serviceCounter, networks domain.NetworkType) []logger.Field {
	return []logger.Field{
		logger.Int("services", reg.Count(domain.NetworkNull)),
		logger.Int("working", reg.Count(networks)),
		logger.Stringer("networks", networks),
	}
}
