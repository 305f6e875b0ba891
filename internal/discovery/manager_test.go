package discovery

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

func TestNewRequiresDataDir(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxRating: 5})

	id := m.Add("HTTP://Cache.Example.com/gwc", domain.ServiceTypeGWC, domain.NetworkG2, 9)
	require.Equal(t, domain.ServiceID(1), id)

	s, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, "http://cache.example.com/gwc", s.URL)
	assert.Equal(t, uint8(5), s.Rating, "rating is clamped")
	assert.True(t, m.Dirty())

	t.Run("invalid url", func(t *testing.T) {
		assert.Zero(t, m.Add("not a url", domain.ServiceTypeGWC, domain.NetworkG2, 3))
		assert.Zero(t, m.Add("", domain.ServiceTypeNull, domain.NetworkG2, 3))
		assert.Equal(t, 1, m.Count(domain.NetworkNull))
	})

	t.Run("duplicate merges networks", func(t *testing.T) {
		assert.Zero(t, m.Add("http://cache.example.com/gwc", domain.ServiceTypeGWC, domain.NetworkG1, 3))
		s, _ := m.Get(id)
		assert.Equal(t, domain.NetworkG1|domain.NetworkG2, s.Network)
		assert.Equal(t, 1, m.Count(domain.NetworkNull))
	})

	t.Run("same url other type keeps existing", func(t *testing.T) {
		assert.Zero(t, m.Add("http://cache.example.com/gwc", domain.ServiceTypeNull, domain.NetworkG2, 3))
		s, _ := m.Get(id)
		assert.Equal(t, domain.ServiceTypeGWC, s.Type)
	})

	t.Run("prefix overlap is allowed", func(t *testing.T) {
		assert.NotZero(t, m.Add("http://cache.example.com/gwc/v2", domain.ServiceTypeGWC, domain.NetworkG2, 3))
	})

	t.Run("null service is banned", func(t *testing.T) {
		nid := m.Add("evil.example.com", domain.ServiceTypeNull, domain.NetworkG2, 5)
		require.NotZero(t, nid)
		s, _ := m.Get(nid)
		assert.True(t, s.Banned)
		assert.Zero(t, s.Rating)
	})
}

func TestBannedEntryBlocksService(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	banned := m.Add("http://blocked.example.com/", domain.ServiceTypeNull, domain.NetworkNull, 0)
	require.NotZero(t, banned)
	assert.Zero(t, m.Add("http://Blocked.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3))

	boot := m.Add("uhc:boot.example.com:6346", domain.ServiceTypeNull, domain.NetworkNull, 0)
	require.NotZero(t, boot)
	assert.Zero(t, m.Add("boot.example.com:6346", domain.ServiceTypeBootstrap, domain.NetworkG2, 3))

	assert.Equal(t, 2, m.Count(domain.NetworkNull))
	s, ok := m.Get(banned)
	require.True(t, ok)
	assert.Equal(t, "http://blocked.example.com", s.URL)
	assert.True(t, s.Banned)
}

func TestRemoveIf(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	id := m.Add("http://a.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 0)
	zero := func(s domain.Service) bool { return s.Rating == 0 }

	mutate(t, m, id, func(s *domain.Service) { s.Rating = 2 })
	assert.False(t, m.RemoveIf(id, zero))
	assert.True(t, m.Check(domain.Service{ID: id, Type: domain.ServiceTypeGWC, URL: "http://a.example.com"}))

	mutate(t, m, id, func(s *domain.Service) { s.Rating = 0 })
	assert.True(t, m.RemoveIf(id, zero))
	assert.False(t, m.RemoveIf(id, zero), "already gone")
	assert.Zero(t, m.Count(domain.NetworkNull))
}

func TestRemoveReusesID(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	for i := 1; i <= 3; i++ {
		require.Equal(t, domain.ServiceID(i), m.Add(fmt.Sprintf("http://%d.example.com", i), domain.ServiceTypeGWC, domain.NetworkG2, 3))
	}

	assert.False(t, m.Remove(0))
	assert.False(t, m.Remove(99))

	require.True(t, m.Remove(3))
	assert.Equal(t, domain.ServiceID(3), m.Add("http://four.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3))

	require.True(t, m.Remove(1))
	assert.Equal(t, domain.ServiceID(1), m.Add("http://five.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3))
	assert.Equal(t, domain.ServiceID(4), m.Add("http://six.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3))
}

func TestCount(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	m.Add("http://g2.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3)
	m.Add("http://g1.example.com", domain.ServiceTypeGWC, domain.NetworkG1, 3)
	m.Add("http://zero.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 0)
	m.Add("boot.example.com:6346", domain.ServiceTypeBootstrap, domain.NetworkG2, 1)
	m.Add("spam.example.com", domain.ServiceTypeNull, domain.NetworkG2, 5)

	assert.Equal(t, 5, m.Count(domain.NetworkNull))
	assert.Equal(t, 2, m.Count(domain.NetworkG2))
	assert.Equal(t, 1, m.Count(domain.NetworkG1))
	assert.Equal(t, 3, m.Count(domain.NetworkG1|domain.NetworkG2))
}

func TestCheck(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	id := m.Add("http://cache.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3)
	s, _ := m.Get(id)

	assert.True(t, m.Check(s))

	s.Rating = 1
	assert.True(t, m.Check(s), "policy fields are ignored")

	other := s
	other.URL = "http://other.example.com"
	assert.False(t, m.Check(other))

	assert.False(t, m.Check(domain.Service{}))

	require.True(t, m.Remove(id))
	assert.False(t, m.Check(s))
}

func TestEvents(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	events, cancel := m.Subscribe(32)
	defer cancel()

	a := m.Add("http://a.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3)
	b := m.Add("http://b.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3)
	require.True(t, m.Remove(a))

	require.NoError(t, m.RequestServiceList())
	require.NoError(t, m.Barrier(t.Context()))
	m.Clear(true)

	want := []struct {
		kind EventKind
		id   domain.ServiceID
	}{
		{EventServiceAdded, a},
		{EventServiceAdded, b},
		{EventServiceRemoved, a},
		{EventServiceInfo, b},
		{EventServiceRemoved, b},
	}
	for _, w := range want {
		select {
		case ev := <-events:
			assert.Equal(t, w.kind, ev.Kind)
			assert.Equal(t, w.id, ev.ID)
		case <-time.After(time.Second):
			t.Fatalf("missing %v event for %d", w.kind, w.id)
		}
	}
	assert.Zero(t, m.Count(domain.NetworkNull))
}

func TestSubscriptionClosedByStop(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	events, _ := m.Subscribe(1)
	m.Stop()

	_, open := <-events
	assert.False(t, open)

	late, _ := m.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}

func TestStopSavesAndClears(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, Options{DataDir: dir})
	m.Add("http://a.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3)

	assert.True(t, m.Stop())
	assert.Zero(t, m.Count(domain.NetworkNull))
	assert.True(t, m.Stop(), "second stop returns the first result")

	services, err := ReadFile(dir + "/" + PrimaryFile)
	require.NoError(t, err)
	require.Len(t, services, 1)
}

func TestConcurrentMutations(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	const (
		workers = 8
		ops     = 300
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(w), 7))
			for i := 0; i < ops; i++ {
				switch r.IntN(4) {
				case 0, 1:
					m.Add(fmt.Sprintf("http://w%d-%d.example.com", w, r.IntN(50)), domain.ServiceTypeGWC, domain.NetworkG2, 3)
				case 2:
					m.Remove(domain.ServiceID(r.IntN(120) + 1))
				default:
					m.Count(domain.NetworkG2)
				}
			}
		}(w)
	}
	wg.Wait()

	services := m.Services()
	ids := make([]domain.ServiceID, 0, len(services))
	urls := map[string]bool{}
	for _, s := range services {
		require.NotZero(t, s.ID)
		require.False(t, urls[s.URL], "duplicate url %s", s.URL)
		urls[s.URL] = true
		ids = append(ids, s.ID)
	}
	assert.True(t, slices.IsSorted(ids))
	assert.Len(t, slices.Compact(slices.Clone(ids)), len(ids), "ids are unique")
	assert.Equal(t, len(services), m.Count(domain.NetworkNull))

	m.mu.Lock()
	assert.Len(t, m.store.entries, len(m.store.ids))
	m.mu.Unlock()
}
