// Package discovery is the registry of discovery services: the bootstrap
// endpoints a peer-to-peer client contacts to learn about peers.
//
// A Manager owns every service. Synchronous operations (Add, Remove, Count,
// Check, Get) take the registry lock directly. Operations that must not block
// the caller (Start, Save(false), queries, updates, service list) are queued
// to a single worker that runs them in order. No lock is held across file or
// network I/O.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
	"github.com/MrSnakeDoc/discoveryd/internal/metrics"
)

const (
	DefaultAccessThrottle  = time.Hour
	DefaultRevivalInterval = 24 * time.Hour
	DefaultMaxRating       = 5
	DefaultRequestTimeout  = 15 * time.Second
)

// Options configures a Manager. Zero values get defaults, except DataDir.
type Options struct {
	DataDir         string
	AccessThrottle  time.Duration
	RevivalInterval time.Duration
	MaxRating       uint8

	// Drivers maps service types to their protocol. Missing types behave
	// like the null service: every request is unsupported.
	Drivers Drivers

	// Hosts receive the peers learned by successful requests.
	Hosts []HostSink

	Net            *NetAccess
	RequestTimeout time.Duration
	AdvertiseAddr  string
	ClientID       string
	ClientVersion  string

	// Seeds provides default services, used only when no data file exists.
	Seeds func() ([]domain.Seed, error)

	Clock   clock.Clock
	Rand    *rand.Rand
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Manager is the discovery service registry. Build it with New and release
// it with Stop.
type Manager struct {
	opts    Options
	log     logger.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	persist *persister
	disp    *dispatcher
	events  *notifier
	net     *NetAccess

	// saveMu serializes file I/O between the worker and forced saves.
	saveMu sync.Mutex

	mu        sync.Mutex
	store     *store
	rng       *rand.Rand
	dirty     bool
	gen       uint64 // bumped on every mutation
	nextToken uint64
	loaded    bool

	baseCtx  context.Context
	cancel   context.CancelFunc
	requests sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
	stopOK    bool
}

func New(opts Options) (*Manager, error) {
	if opts.DataDir == "" {
		return nil, errors.New("discovery: data dir is required")
	}
	if opts.AccessThrottle < 0 || opts.RevivalInterval < 0 {
		return nil, fmt.Errorf("discovery: negative interval (throttle %v, revival %v)",
			opts.AccessThrottle, opts.RevivalInterval)
	}
	if opts.AccessThrottle == 0 {
		opts.AccessThrottle = DefaultAccessThrottle
	}
	if opts.RevivalInterval == 0 {
		opts.RevivalInterval = DefaultRevivalInterval
	}
	if opts.MaxRating == 0 {
		opts.MaxRating = DefaultMaxRating
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Net == nil {
		opts.Net = NewNetAccess(opts.RequestTimeout, nil)
	}

	log := opts.Logger.With(logger.Component("discovery"))
	m := &Manager{
		opts:    opts,
		log:     log,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		persist: newPersister(opts.DataDir, log),
		net:     opts.Net,
		store:   newStore(),
		rng:     opts.Rand,
		ready:   make(chan struct{}),
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.events = newNotifier(func(ev Event) {
		log.Debug("event dropped for slow subscriber",
			logger.Stringer("kind", ev.Kind),
			logger.Uint32("id", uint32(ev.ID)))
	})
	m.disp = newDispatcher(m.handle)
	m.metrics.RegisterServicesGauge(func() float64 { return float64(m.Count(domain.NetworkNull)) })
	return m, nil
}

// ─────────────────────────────
// Lifecycle
// ─────────────────────────────

// Start queues the initial load. Ready is closed once it ran.
func (m *Manager) Start() error {
	return m.disp.post(command{kind: cmdStart})
}

// Ready is closed once the initial load completed, successfully or not.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// IsReady reports whether the initial load completed.
func (m *Manager) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Stop cancels in-flight requests, stops the worker, saves and clears the
// registry. It returns whether the final save succeeded. Later calls return
// the first result.
func (m *Manager) Stop() bool {
	m.stopOnce.Do(func() {
		m.cancel()
		m.disp.close()
		m.requests.Wait()

		m.mu.Lock()
		loaded := m.loaded
		m.mu.Unlock()

		m.stopOK = true
		if loaded {
			m.stopOK = m.saveSync()
		}
		m.Clear(false)
		m.events.close()
		m.log.Info("discovery manager stopped", logger.Bool("saved", m.stopOK))
	})
	return m.stopOK
}

// Barrier waits until every command queued before it has run.
func (m *Manager) Barrier(ctx context.Context) error {
	done := make(chan error, 1)
	if err := m.disp.post(command{kind: cmdBarrier, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a stream of registry events and a function that ends the
// subscription. Events are dropped when the buffer is full. The channel is
// closed by the returned function or by Stop.
func (m *Manager) Subscribe(buf int) (<-chan Event, func()) {
	return m.events.subscribe(buf)
}

// ─────────────────────────────
// Synchronous operations
// ─────────────────────────────

// Add validates and registers a service. It returns the assigned id, or 0
// when the url is invalid or the service is a duplicate.
func (m *Manager) Add(url string, t domain.ServiceType, n domain.NetworkType, rating uint8) domain.ServiceID {
	norm, err := Normalize(url, t)
	if err != nil {
		m.metrics.InvalidURL()
		m.log.Warn("rejected service",
			logger.String("url", url),
			logger.Stringer("type", t),
			logger.Error(err))
		return 0
	}
	svc := domain.NewService(norm, t, n, rating, m.opts.MaxRating)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(svc)
}

// AddSeeds registers seeds and returns how many were accepted.
func (m *Manager) AddSeeds(seeds []domain.Seed) int {
	added := 0
	for _, s := range seeds {
		if m.Add(s.URL, s.Type, s.Network, s.Rating) != 0 {
			added++
		}
	}
	return added
}

// Requires lock: yes
func (m *Manager) addLocked(svc domain.Service) domain.ServiceID {
	if m.rejectDuplicate(svc) {
		m.metrics.DuplicateRejected()
		return 0
	}

	e, reassigned := m.store.insert(svc)
	if reassigned {
		integrityViolation(m.log, "service id already in use, reassigned",
			logger.Uint32("old_id", uint32(svc.ID)),
			logger.Uint32("new_id", uint32(e.svc.ID)),
			logger.String("url", svc.URL))
	}
	m.markDirty()
	m.metrics.ServiceAdded()
	m.events.emit(Event{Kind: EventServiceAdded, ID: e.svc.ID, Service: e.svc})
	m.log.Debug("service added",
		logger.Uint32("id", uint32(e.svc.ID)),
		logger.String("url", e.svc.URL),
		logger.Stringer("type", e.svc.Type),
		logger.Stringer("network", e.svc.Network))
	return e.svc.ID
}

// Remove cancels any request in flight for id and erases the service.
func (m *Manager) Remove(id domain.ServiceID) bool {
	if id == 0 {
		m.log.Warn("remove called with id 0")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// RemoveIf erases id only if cond holds for its current state. The check and
// the removal happen under one lock, so a snapshot taken earlier can be
// revalidated against a service that was since revived or replaced.
func (m *Manager) RemoveIf(id domain.ServiceID, cond func(domain.Service) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.store.find(id)
	if e == nil || !cond(e.svc) {
		return false
	}
	return m.removeLocked(id)
}

// Requires lock: yes
func (m *Manager) removeLocked(id domain.ServiceID) bool {
	e, ok := m.store.remove(id)
	if !ok {
		m.log.Debug("remove: unknown service", logger.Uint32("id", uint32(id)))
		return false
	}
	e.cancelRequest()
	m.markDirty()
	m.metrics.ServiceRemoved()
	m.events.emit(Event{Kind: EventServiceRemoved, ID: id, Service: e.svc})
	return true
}

// Clear empties the registry. With notify, a removal event is emitted for
// every service first.
func (m *Manager) Clear(notify bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if notify {
		m.store.each(func(e *entry) bool {
			m.events.emit(Event{Kind: EventServiceRemoved, ID: e.svc.ID, Service: e.svc})
			return true
		})
	}
	if m.store.len() > 0 {
		m.markDirty()
	}
	m.store.reset()
}

// Count returns the number of services when filter is NetworkNull, otherwise
// the number of working services for filter.
func (m *Manager) Count(filter domain.NetworkType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.count(filter)
}

// Check reports whether svc is still registered unchanged under its id.
func (m *Manager) Check(svc domain.Service) bool {
	if svc.ID == 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.store.find(svc.ID)
	return e != nil && e.svc.Equal(svc)
}

// Get returns a snapshot of the service with the given id.
func (m *Manager) Get(id domain.ServiceID) (domain.Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.store.find(id); e != nil {
		return e.svc, true
	}
	return domain.Service{}, false
}

// Services returns snapshots of every service in id order.
func (m *Manager) Services() []domain.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.snapshot()
}

// Dirty reports whether mutations happened since the last successful save.
func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Requires lock: yes
func (m *Manager) markDirty() {
	m.dirty = true
	m.gen++
}

// ─────────────────────────────
// Queued operations
// ─────────────────────────────

// Save writes the registry to disk. With force the save runs on the calling
// goroutine and the result is final. Otherwise a clean registry returns true
// without I/O and a dirty one queues a save and returns false, since the
// outcome is not known yet.
func (m *Manager) Save(force bool) bool {
	if force {
		return m.saveSync()
	}

	m.mu.Lock()
	dirty := m.dirty
	m.mu.Unlock()
	if !dirty {
		return true
	}
	if err := m.disp.post(command{kind: cmdSave}); err != nil {
		m.log.Warn("save not queued", logger.Error(err))
	}
	return false
}

// RequestServiceList queues one EventServiceInfo per registered service.
func (m *Manager) RequestServiceList() error {
	return m.disp.post(command{kind: cmdServiceList})
}

// UpdateNetwork queues an update of a service selected for network n.
func (m *Manager) UpdateNetwork(n domain.NetworkType) error {
	return m.disp.post(command{kind: cmdUpdateNetwork, network: n})
}

// UpdateService queues an update of the service with the given id.
func (m *Manager) UpdateService(id domain.ServiceID) error {
	return m.disp.post(command{kind: cmdUpdateID, id: id})
}

// QueryNetwork queues a query of a service selected for network n.
func (m *Manager) QueryNetwork(n domain.NetworkType) error {
	return m.disp.post(command{kind: cmdQueryNetwork, network: n})
}

// QueryService queues a query of the service with the given id.
func (m *Manager) QueryService(id domain.ServiceID) error {
	return m.disp.post(command{kind: cmdQueryID, id: id})
}

// handle runs on the dispatch worker.
func (m *Manager) handle(c command) {
	switch c.kind {
	case cmdStart:
		m.start()
	case cmdSave:
		m.saveSync()
	case cmdServiceList:
		m.serviceList()
	case cmdUpdateNetwork:
		m.requestNetwork(OpUpdate, c.network)
	case cmdQueryNetwork:
		m.requestNetwork(OpQuery, c.network)
	case cmdUpdateID:
		m.requestID(OpUpdate, c.id)
	case cmdQueryID:
		m.requestID(OpQuery, c.id)
	case cmdBarrier:
	}
}

func (m *Manager) start() {
	defer m.readyOnce.Do(func() { close(m.ready) })

	err := m.load()
	switch {
	case err == nil:
	case errors.Is(err, ErrNoData):
		m.log.Info("no data file found, loading default services")
		m.loadSeeds()
	default:
		m.log.Error("failed to load discovery services", logger.Error(err))
	}
}

func (m *Manager) loadSeeds() {
	if m.opts.Seeds == nil {
		return
	}
	seeds, err := m.opts.Seeds()
	if err != nil {
		m.log.Warn("failed to read default services", logger.Error(err))
		return
	}
	added := m.AddSeeds(seeds)
	m.log.Info("default services loaded",
		logger.Int("seeds", len(seeds)),
		logger.Int("added", added))
}

// Requires lock: no
func (m *Manager) serviceList() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.each(func(e *entry) bool {
		m.events.emit(Event{Kind: EventServiceInfo, ID: e.svc.ID, Service: e.svc})
		return true
	})
}

// ─────────────────────────────
// Persistence
// ─────────────────────────────

// saveSync snapshots the registry and writes it. The dirty flag is cleared
// only when nothing changed while the files were being written.
// Requires lock: no
func (m *Manager) saveSync() bool {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	if !m.loaded {
		m.mu.Unlock()
		m.log.Warn("save skipped: registry not loaded yet")
		return false
	}
	services := m.store.snapshot()
	gen := m.gen
	m.mu.Unlock()

	if err := m.persist.write(services); err != nil {
		m.metrics.Save(false)
		m.log.Error("failed to save discovery services", logger.Error(err))
		return false
	}

	m.mu.Lock()
	if m.gen == gen {
		m.dirty = false
	}
	m.mu.Unlock()

	m.metrics.Save(true)
	m.log.Debug("discovery services saved", logger.Int("count", len(services)))
	return true
}

// load replaces the registry content with the data files.
// Requires lock: no
func (m *Manager) load() error {
	services, source, err := m.persist.read()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.reset()
	m.loaded = true
	m.dirty = false
	if err != nil {
		return err
	}
	m.metrics.Load(source)

	changed := false
	for _, svc := range services {
		norm, nerr := Normalize(svc.URL, svc.Type)
		if nerr != nil {
			m.log.Warn("dropping stored service with invalid url",
				logger.Uint32("id", uint32(svc.ID)),
				logger.String("url", svc.URL),
				logger.Error(nerr))
			changed = true
			continue
		}
		if norm != svc.URL {
			changed = true
		}
		svc.URL = norm
		svc.Running = false
		if svc.Rating > m.opts.MaxRating {
			svc.Rating = m.opts.MaxRating
			changed = true
		}
		if id := m.addLocked(svc); id == 0 || id != svc.ID {
			changed = true
		}
	}
	m.dirty = changed

	m.log.Info("discovery services loaded",
		logger.String("source", source),
		logger.Int("count", m.store.len()))
	return nil
}
