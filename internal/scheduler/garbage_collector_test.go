package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// fakeRegistry implements every registry-facing interface of the package.
type fakeRegistry struct {
	mu       sync.Mutex
	services map[domain.ServiceID]domain.Service
	queries  []domain.NetworkType
	updates  []domain.NetworkType
	saves    int
	dirty    bool
	events   chan discovery.Event
}

func newFakeRegistry(services ...domain.Service) *fakeRegistry {
	r := &fakeRegistry{services: make(map[domain.ServiceID]domain.Service), events: make(chan discovery.Event, 16)}
	for _, s := range services {
		r.services[s.ID] = s
	}
	return r
}

func (r *fakeRegistry) Services() []domain.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	return out
}

func (r *fakeRegistry) RemoveIf(id domain.ServiceID, cond func(domain.Service) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok || !cond(s) {
		return false
	}
	delete(r.services, id)
	return true
}

func (r *fakeRegistry) set(s domain.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

func (r *fakeRegistry) has(id domain.ServiceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.services[id]
	return ok
}

func (r *fakeRegistry) QueryNetwork(n domain.NetworkType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, n)
	return nil
}

func (r *fakeRegistry) UpdateNetwork(n domain.NetworkType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, n)
	return nil
}

func (r *fakeRegistry) counts() (queries, updates, saves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries), len(r.updates), r.saves
}

func (r *fakeRegistry) Save(bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	return !r.dirty
}

func (r *fakeRegistry) Subscribe(int) (<-chan discovery.Event, func()) {
	var once sync.Once
	return r.events, func() { once.Do(func() { close(r.events) }) }
}

type fakePruner struct {
	cutoff  time.Time
	removed int
}

func (p *fakePruner) Prune(cutoff time.Time) (int, error) {
	p.cutoff = cutoff
	return p.removed, nil
}

func TestGarbageCollector_Collect(t *testing.T) {
	reg := newFakeRegistry(
		domain.Service{ID: 1, URL: "http://alive.example.com/", Rating: 3, ZeroRevivals: 50},
		domain.Service{ID: 2, URL: "http://dead.example.com/", Rating: 0, ZeroRevivals: 11},
		domain.Service{ID: 3, URL: "http://young.example.com/", Rating: 0, ZeroRevivals: 10},
		domain.Service{ID: 4, URL: "http://banned.example.com/", Rating: 0, Banned: true, ZeroRevivals: 99},
		domain.Service{ID: 5, URL: "http://busy.example.com/", Rating: 0, Running: true, ZeroRevivals: 99},
	)

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	hosts := &fakePruner{removed: 4}

	gc := NewGarbageCollector(reg, hosts, GCOptions{
		Interval:    time.Hour,
		MaxRevivals: 10,
		HostTTL:     72 * time.Hour,
		Clock:       mock,
	}, logger.NewNop())

	require.NoError(t, gc.Collect(context.Background()))

	assert.True(t, reg.has(1), "rated service kept")
	assert.False(t, reg.has(2), "dead service removed")
	assert.True(t, reg.has(3), "service at the limit kept")
	assert.True(t, reg.has(4), "banned service kept")
	assert.True(t, reg.has(5), "running service kept")
	assert.Equal(t, mock.Now().Add(-72*time.Hour), hosts.cutoff)
}

func TestGarbageCollector_Disabled(t *testing.T) {
	reg := newFakeRegistry(domain.Service{ID: 1, Rating: 0, ZeroRevivals: 1000})
	gc := NewGarbageCollector(reg, nil, GCOptions{Interval: time.Hour}, logger.NewNop())

	require.NoError(t, gc.Collect(context.Background()))
	assert.True(t, reg.has(1))
}

func TestGarbageCollector_Periodic(t *testing.T) {
	reg := newFakeRegistry(domain.Service{ID: 1, Rating: 0, ZeroRevivals: 3})
	mock := clock.NewMock()
	gc := NewGarbageCollector(reg, nil, GCOptions{Interval: time.Hour, MaxRevivals: 2, Clock: mock}, logger.NewNop())

	require.NoError(t, gc.Start(t.Context()))
	defer gc.Stop()

	assert.True(t, reg.has(1), "nothing runs before the first tick")
	mock.Add(time.Hour)
	assert.Eventually(t, func() bool { return !reg.has(1) }, time.Second, 5*time.Millisecond)
}

// staleListing returns a fixed listing while the registry moves on.
type staleListing struct {
	*fakeRegistry
	listing []domain.Service
}

func (s staleListing) Services() []domain.Service { return s.listing }

func TestGarbageCollector_RevalidatesBeforeRemoval(t *testing.T) {
	revived := domain.Service{ID: 1, URL: "http://revived.example.com/", Rating: 0, ZeroRevivals: 20}
	recycled := domain.Service{ID: 2, URL: "http://old.example.com/", Rating: 0, ZeroRevivals: 20}
	reg := newFakeRegistry(revived, recycled)
	listing := reg.Services()

	revived.Rating = 2
	reg.set(revived)
	reg.set(domain.Service{ID: 2, URL: "http://new.example.com/", Rating: 0, ZeroRevivals: 20})

	gc := NewGarbageCollector(staleListing{fakeRegistry: reg, listing: listing}, nil,
		GCOptions{Interval: time.Hour, MaxRevivals: 10}, logger.NewNop())
	require.NoError(t, gc.Collect(context.Background()))

	assert.True(t, reg.has(1), "revived service kept")
	assert.True(t, reg.has(2), "service that took over the id kept")
}
