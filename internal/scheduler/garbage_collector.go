package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// ServiceRegistry lists services and removes those still matching a
// condition.
type ServiceRegistry interface {
	Services() []domain.Service
	RemoveIf(id domain.ServiceID, cond func(domain.Service) bool) bool
}

// HostPruner drops hosts last seen before cutoff.
type HostPruner interface {
	Prune(cutoff time.Time) (int, error)
}

// GCOptions configures a GarbageCollector.
type GCOptions struct {
	Interval time.Duration
	// MaxRevivals removes zero-rated services revived more often than this.
	// 0 keeps them forever.
	MaxRevivals uint32
	// HostTTL is the age after which cached hosts are dropped.
	HostTTL time.Duration
	Clock   clock.Clock
}

// GarbageCollector removes services that keep failing after revival and
// expires stale hosts from the host cache.
type GarbageCollector struct {
	reg    ServiceRegistry
	hosts  HostPruner
	opts   GCOptions
	clock  clock.Clock
	logger logger.Logger
	loop   *loop
}

// NewGarbageCollector creates a new garbage collector. hosts may be nil.
func NewGarbageCollector(reg ServiceRegistry, hosts HostPruner, opts GCOptions, log logger.Logger) *GarbageCollector {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &GarbageCollector{
		reg:    reg,
		hosts:  hosts,
		opts:   opts,
		clock:  opts.Clock,
		logger: log,
		loop:   newLoop(opts.Clock),
	}
}

// Start begins the periodic garbage collection process
func (gc *GarbageCollector) Start(ctx context.Context) error {
	gc.loop.start(ctx, job{interval: gc.opts.Interval, fn: func(ctx context.Context) {
		if err := gc.Collect(ctx); err != nil {
			gc.logger.Error("garbage collection failed", logger.Error(err))
		}
	}})
	return nil
}

// Stop stops the garbage collector
func (gc *GarbageCollector) Stop() {
	gc.loop.stop()
}

// Collect runs one pass.
func (gc *GarbageCollector) Collect(context.Context) error {
	servicesDeleted := gc.collectServices()

	hostsDeleted := 0
	if gc.hosts != nil && gc.opts.HostTTL > 0 {
		n, err := gc.hosts.Prune(gc.clock.Now().Add(-gc.opts.HostTTL))
		if err != nil {
			return err
		}
		hostsDeleted = n
	}

	if servicesDeleted+hostsDeleted > 0 {
		gc.logger.Info("garbage collection completed",
			logger.Int("services_deleted", servicesDeleted),
			logger.Int("hosts_deleted", hostsDeleted))
	} else {
		gc.logger.Debug("nothing to garbage collect")
	}
	return nil
}

func (gc *GarbageCollector) collectServices() int {
	if gc.opts.MaxRevivals == 0 {
		return 0
	}

	deleted := 0
	for _, svc := range gc.reg.Services() {
		if !gc.dead(svc) {
			continue
		}
		// the live entry may have been revived or its id reused since the listing
		url := svc.URL
		if !gc.reg.RemoveIf(svc.ID, func(cur domain.Service) bool {
			return cur.URL == url && gc.dead(cur)
		}) {
			continue
		}
		gc.logger.Info("garbage collected dead service",
			logger.Uint32("id", uint32(svc.ID)),
			logger.String("url", svc.URL),
			logger.Uint32("zero_revivals", svc.ZeroRevivals))
		deleted++
	}
	return deleted
}

// banned entries stay as a block list
func (gc *GarbageCollector) dead(svc domain.Service) bool {
	return !svc.Banned && !svc.Running && svc.Rating == 0 && svc.ZeroRevivals > gc.opts.MaxRevivals
}
