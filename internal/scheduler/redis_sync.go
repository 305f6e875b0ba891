package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// MirrorStore is the write side of the Redis store.
type MirrorStore interface {
	SaveService(ctx context.Context, service domain.Service) error
	DeleteService(ctx context.Context, id domain.ServiceID) error
	SaveServicesMany(ctx context.Context, services []domain.Service) error
}

// EventSource lists services and streams their changes.
type EventSource interface {
	Services() []domain.Service
	Subscribe(buf int) (<-chan discovery.Event, func())
}

const mirrorBuffer = 256

// RedisMirror keeps Redis in step with the registry. It replays events as
// they come and resyncs everything on each interval, which also repairs
// events dropped under load.
type RedisMirror struct {
	store    MirrorStore
	reg      EventSource
	interval time.Duration
	logger   logger.Logger
	loop     *loop

	unsubscribe func()
	wg          sync.WaitGroup
}

// NewRedisMirror creates a new Redis mirror
func NewRedisMirror(store MirrorStore, reg EventSource, interval time.Duration, clk clock.Clock, log logger.Logger) *RedisMirror {
	return &RedisMirror{
		store:    store,
		reg:      reg,
		interval: interval,
		logger:   log,
		loop:     newLoop(clk),
	}
}

// Start subscribes before the initial sync so no change is missed.
func (rm *RedisMirror) Start(ctx context.Context) error {
	events, unsubscribe := rm.reg.Subscribe(mirrorBuffer)
	rm.unsubscribe = unsubscribe

	if err := rm.Sync(ctx); err != nil {
		rm.logger.Warn("initial redis sync failed", logger.Error(err))
	}

	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		for ev := range events {
			rm.apply(ctx, ev)
		}
	}()

	rm.loop.start(ctx, job{interval: rm.interval, fn: func(ctx context.Context) {
		if err := rm.Sync(ctx); err != nil {
			rm.logger.Warn("redis resync failed", logger.Error(err))
		}
	}})
	return nil
}

// Stop ends the subscription and waits for pending writes.
func (rm *RedisMirror) Stop() {
	rm.loop.stop()
	if rm.unsubscribe != nil {
		rm.unsubscribe()
	}
	rm.wg.Wait()
}

// Sync writes a full snapshot of the registry.
func (rm *RedisMirror) Sync(ctx context.Context) error {
	services := rm.reg.Services()
	if err := rm.store.SaveServicesMany(ctx, services); err != nil {
		return err
	}
	rm.logger.Debug("synced services to redis", logger.Int("count", len(services)))
	return nil
}

func (rm *RedisMirror) apply(ctx context.Context, ev discovery.Event) {
	var err error
	switch ev.Kind {
	case discovery.EventServiceAdded, discovery.EventServiceInfo:
		err = rm.store.SaveService(ctx, ev.Service)
	case discovery.EventServiceRemoved:
		err = rm.store.DeleteService(ctx, ev.ID)
	default:
		return
	}
	if err != nil {
		rm.logger.Warn("failed to mirror event",
			logger.Stringer("event", ev.Kind),
			logger.Uint32("id", uint32(ev.ID)),
			logger.Error(err))
	}
}
