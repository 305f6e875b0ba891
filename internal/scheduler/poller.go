package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// Requester queues network-wide requests.
type Requester interface {
	QueryNetwork(n domain.NetworkType) error
	UpdateNetwork(n domain.NetworkType) error
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Networks       domain.NetworkType
	QueryInterval  time.Duration
	UpdateInterval time.Duration
	// Advertise enables updates; without an address to push they are skipped.
	Advertise bool
	Clock     clock.Clock
}

// Poller periodically queries (and optionally updates) one service per
// configured network.
type Poller struct {
	reg    Requester
	opts   PollerOptions
	logger logger.Logger
	loop   *loop
}

// NewPoller creates a new poller
func NewPoller(reg Requester, opts PollerOptions, log logger.Logger) *Poller {
	return &Poller{
		reg:    reg,
		opts:   opts,
		logger: log,
		loop:   newLoop(opts.Clock),
	}
}

// Start queries every network immediately, then on each interval.
func (p *Poller) Start(ctx context.Context) error {
	if p.opts.Networks.IsNull() {
		return errors.New("poller: no network configured")
	}

	p.Query(ctx)

	jobs := []job{{interval: p.opts.QueryInterval, fn: p.Query}}
	if p.opts.Advertise {
		jobs = append(jobs, job{interval: p.opts.UpdateInterval, fn: p.Update})
	}
	p.loop.start(ctx, jobs...)

	p.logger.Info("poller started",
		logger.Stringer("networks", p.opts.Networks),
		logger.Duration("query_interval", p.opts.QueryInterval),
		logger.Bool("updates", p.opts.Advertise))
	return nil
}

// Stop stops the poller
func (p *Poller) Stop() {
	p.loop.stop()
}

// Query queues one query per configured network.
func (p *Poller) Query(context.Context) {
	for _, n := range p.opts.Networks.Networks() {
		p.report("query", n, p.reg.QueryNetwork(n))
	}
}

// Update queues one update per configured network.
func (p *Poller) Update(context.Context) {
	for _, n := range p.opts.Networks.Networks() {
		p.report("update", n, p.reg.UpdateNetwork(n))
	}
}

func (p *Poller) report(op string, n domain.NetworkType, err error) {
	switch {
	case err == nil:
		p.logger.Debug("request queued", logger.String("op", op), logger.Stringer("network", n))
	case errors.Is(err, discovery.ErrStopped):
		p.logger.Debug("registry stopped, request dropped", logger.String("op", op))
	default:
		p.logger.Warn("failed to queue request",
			logger.String("op", op),
			logger.Stringer("network", n),
			logger.Error(err))
	}
}
