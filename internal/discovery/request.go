package discovery

import (
	"context"
	"errors"
	"math"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// requestNetwork selects a service for n and starts op on it.
// Requires lock: no
func (m *Manager) requestNetwork(op Op, n domain.NetworkType) {
	if n.IsNull() {
		m.log.Warn("request without network ignored", logger.Stringer("op", op))
		return
	}
	if !m.net.Online() {
		m.log.Warn("network unavailable, request skipped",
			logger.Stringer("op", op),
			logger.Stringer("network", n))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.selectForNetwork(n)
	if e == nil {
		m.metrics.SelectionMiss(op.String())
		m.log.Debug("no eligible service",
			logger.Stringer("op", op),
			logger.Stringer("network", n))
		return
	}
	m.launch(e, op, firstNetwork(e.svc.Network&n))
}

// requestID starts op on a given service. Throttling, bans and a request in
// flight do not prevent it: they are logged and the old request is replaced.
// Requires lock: no
func (m *Manager) requestID(op Op, id domain.ServiceID) {
	if !m.net.Online() {
		m.log.Warn("network unavailable, request skipped",
			logger.Stringer("op", op),
			logger.Uint32("id", uint32(id)))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.store.find(id)
	if e == nil {
		m.log.Warn("request for unknown service", logger.Stringer("op", op), logger.Uint32("id", uint32(id)))
		return
	}

	s := e.svc
	switch {
	case s.Banned:
		m.log.Info("requesting banned service", logger.Uint32("id", uint32(id)), logger.String("url", s.URL))
	case s.Running:
		m.log.Info("replacing request in flight", logger.Uint32("id", uint32(id)), logger.String("url", s.URL))
	case s.LastQueried.Add(m.opts.AccessThrottle).After(m.clock.Now()):
		m.log.Info("requesting throttled service", logger.Uint32("id", uint32(id)), logger.String("url", s.URL))
	}
	m.launch(e, op, firstNetwork(s.Network))
}

// launch marks e running and performs op on its own goroutine.
// Requires lock: yes
func (m *Manager) launch(e *entry, op Op, network domain.NetworkType) {
	e.cancelRequest()

	ctx, cancel := context.WithTimeout(m.baseCtx, m.opts.RequestTimeout)
	m.nextToken++
	e.token = m.nextToken
	e.cancel = cancel
	e.svc.Running = true
	e.svc.LastQueried = domain.TruncateSeconds(m.clock.Now())
	m.markDirty()

	req := Request{
		Service:       e.svc,
		Network:       network,
		AdvertiseAddr: m.opts.AdvertiseAddr,
		ClientID:      m.opts.ClientID,
		ClientVersion: m.opts.ClientVersion,
	}
	drv := m.opts.Drivers.lookup(e.svc.Type)
	token := e.token

	m.log.Debug("request started",
		logger.Stringer("op", op),
		logger.Uint32("id", uint32(e.svc.ID)),
		logger.String("url", e.svc.URL),
		logger.Stringer("network", network))

	m.requests.Add(1)
	go func() {
		defer m.requests.Done()
		defer cancel()

		req.Client = m.net.Acquire()
		var (
			res Result
			err error
		)
		if op == OpUpdate {
			res, err = drv.Update(ctx, req)
		} else {
			res, err = drv.Query(ctx, req)
		}
		m.net.Release()

		m.finish(op, req, token, res, err)
	}()
}

// finish records the outcome of a request. Results of requests that were
// cancelled or replaced in the meantime are discarded.
// Requires lock: no
func (m *Manager) finish(op Op, req Request, token uint64, res Result, err error) {
	id := req.Service.ID
	outcome := outcomeOf(err)
	m.metrics.Request(op.String(), outcome)

	m.mu.Lock()
	e := m.store.find(id)
	if e == nil || e.token != token {
		m.mu.Unlock()
		m.log.Debug("stale request result discarded",
			logger.Stringer("op", op),
			logger.Uint32("id", uint32(id)),
			logger.String("outcome", outcome))
		return
	}
	e.cancel = nil
	e.svc.Running = false
	m.applyResult(e, op, outcome, len(res.Hosts))
	svc := e.svc
	m.events.emit(Event{Kind: EventServiceInfo, ID: id, Service: svc})
	m.mu.Unlock()

	fields := []logger.Field{
		logger.Stringer("op", op),
		logger.Uint32("id", uint32(id)),
		logger.String("url", svc.URL),
		logger.String("outcome", outcome),
		logger.Int("hosts", len(res.Hosts)),
		logger.Int("rating", int(svc.Rating)),
	}
	if err != nil && outcome != outcomeCancelled {
		m.log.Info("request failed", append(fields, logger.Error(err))...)
		return
	}
	if err != nil {
		return
	}
	m.log.Debug("request completed", fields...)

	if len(res.Hosts) > 0 {
		m.metrics.HostsLearned(len(res.Hosts))
		for _, sink := range m.opts.Hosts {
			if serr := sink.AddHosts(m.baseCtx, req.Network, res.Hosts); serr != nil {
				m.log.Warn("failed to store learned hosts", logger.Error(serr))
			}
		}
	}
	for _, u := range res.Services {
		m.Add(u, svc.Type, req.Network, m.opts.MaxRating)
	}
}

const (
	outcomeOK          = "ok"
	outcomeCancelled   = "cancelled"
	outcomeUnsupported = "unsupported"
	outcomeBanned      = "banned"
	outcomeFailed      = "failed"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, context.Canceled):
		return outcomeCancelled
	case errors.Is(err, ErrUnsupported):
		return outcomeUnsupported
	case errors.Is(err, ErrBanned):
		return outcomeBanned
	default:
		return outcomeFailed
	}
}

// applyResult adjusts rating and statistics after a request.
// Requires lock: yes
func (m *Manager) applyResult(e *entry, op Op, outcome string, hosts int) {
	s := &e.svc
	now := domain.TruncateSeconds(m.clock.Now())

	switch outcome {
	case outcomeOK:
		if s.Rating < m.opts.MaxRating {
			s.Rating++
		}
		s.Failures = 0
		s.LastSuccess = now
		if op == OpUpdate {
			s.LastUpdated = now
		}
		s.Hosts = saturatingAdd(s.Hosts, hosts)
	case outcomeBanned:
		s.Banned = true
		s.Rating = 0
	case outcomeFailed:
		if s.Rating > 0 {
			s.Rating--
		}
		s.Failures++
	default:
		return
	}
	m.markDirty()
}

func saturatingAdd(v uint32, n int) uint32 {
	if n <= 0 {
		return v
	}
	if uint64(v)+uint64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return v + uint32(n)
}

// firstNetwork returns the lowest network bit of n, G2 when n is empty.
func firstNetwork(n domain.NetworkType) domain.NetworkType {
	if nets := n.Networks(); len(nets) > 0 {
		return nets[0]
	}
	return domain.NetworkG2
}
