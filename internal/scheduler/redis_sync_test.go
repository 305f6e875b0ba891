package scheduler

import (
	"context"
	"errors"
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

type fakeMirrorStore struct {
	mu      sync.Mutex
	saved   map[domain.ServiceID]domain.Service
	syncs   int
	failAll bool
}

func newFakeMirrorStore() *fakeMirrorStore {
	return &fakeMirrorStore{saved: make(map[domain.ServiceID]domain.Service)}
}

func (s *fakeMirrorStore) SaveService(_ context.Context, svc domain.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[svc.ID] = svc
	return nil
}

func (s *fakeMirrorStore) DeleteService(_ context.Context, id domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, id)
	return nil
}

func (s *fakeMirrorStore) SaveServicesMany(_ context.Context, services []domain.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	if s.failAll {
		return errors.New("redis down")
	}
	for _, svc := range services {
		s.saved[svc.ID] = svc
	}
	return nil
}

func (s *fakeMirrorStore) snapshot() (map[domain.ServiceID]domain.Service, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ServiceID]domain.Service, len(s.saved))
	for k, v := range s.saved {
		out[k] = v
	}
	return out, s.syncs
}

func TestRedisMirror(t *testing.T) {
	reg := newFakeRegistry(domain.Service{ID: 1, URL: "http://one.example.com/"})
	store := newFakeMirrorStore()
	mock := clock.NewMock()

	rm := NewRedisMirror(store, reg, time.Hour, mock, logger.NewNop())
	require.NoError(t, rm.Start(t.Context()))

	saved, syncs := store.snapshot()
	assert.Equal(t, 1, syncs)
	assert.Contains(t, saved, domain.ServiceID(1))

	reg.events <- discovery.Event{Kind: discovery.EventServiceAdded, ID: 2, Service: domain.Service{ID: 2, URL: "http://two.example.com/"}}
	reg.events <- discovery.Event{Kind: discovery.EventServiceInfo, ID: 1, Service: domain.Service{ID: 1, URL: "http://one.example.com/", Rating: 4}}
	reg.events <- discovery.Event{Kind: discovery.EventServiceRemoved, ID: 2}

	assert.Eventually(t, func() bool {
		saved, _ := store.snapshot()
		_, has2 := saved[2]
		return !has2 && saved[1].Rating == 4
	}, time.Second, 5*time.Millisecond)

	mock.Add(time.Hour)
	assert.Eventually(t, func() bool { _, syncs := store.snapshot(); return syncs == 2 }, time.Second, 5*time.Millisecond)

	rm.Stop()
}

func TestRedisMirrorSurvivesSyncFailure(t *testing.T) {
	reg := newFakeRegistry()
	store := newFakeMirrorStore()
	store.failAll = true

	rm := NewRedisMirror(store, reg, time.Hour, clock.NewMock(), logger.NewNop())
	require.NoError(t, rm.Start(t.Context()))
	defer rm.Stop()

	reg.events <- discovery.Event{Kind: discovery.EventServiceAdded, ID: 7, Service: domain.Service{ID: 7}}
	assert.Eventually(t, func() bool {
		saved, _ := store.snapshot()
		_, ok := saved[7]
		return ok
	}, time.Second, 5*time.Millisecond)
}
