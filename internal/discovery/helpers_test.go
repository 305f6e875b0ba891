package discovery

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestManager builds a started manager over a fresh data dir unless opts
// names one. The manager is stopped when the test ends.
func newTestManager(t *testing.T, opts Options) (*Manager, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(testEpoch)

	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	if opts.Clock == nil {
		opts.Clock = mock
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	if opts.Net == nil {
		opts.Net = NewNetAccess(time.Second, func() bool { return true })
	}

	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop() })

	require.NoError(t, m.Start())
	require.NoError(t, m.Barrier(context.Background()))
	return m, mock
}

// mutate edits a live service under the registry lock.
func mutate(t *testing.T, m *Manager, id domain.ServiceID, fn func(s *domain.Service)) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.store.find(id)
	require.NotNil(t, e, "service %d", id)
	fn(&e.svc)
}

type fakeDriver struct {
	query  func(ctx context.Context, req Request) (Result, error)
	update func(ctx context.Context, req Request) (Result, error)

	mu    sync.Mutex
	calls []Request
}

func (d *fakeDriver) record(req Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
}

func (d *fakeDriver) Calls() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.calls...)
}

func (d *fakeDriver) Query(ctx context.Context, req Request) (Result, error) {
	d.record(req)
	if d.query == nil {
		return Result{}, nil
	}
	return d.query(ctx, req)
}

func (d *fakeDriver) Update(ctx context.Context, req Request) (Result, error) {
	d.record(req)
	if d.update == nil {
		return Result{}, nil
	}
	return d.update(ctx, req)
}

type fakeSink struct {
	mu    sync.Mutex
	hosts map[domain.NetworkType][]domain.Host
}

func (s *fakeSink) AddHosts(_ context.Context, n domain.NetworkType, hosts []domain.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hosts == nil {
		s.hosts = make(map[domain.NetworkType][]domain.Host)
	}
	s.hosts[n] = append(s.hosts[n], hosts...)
	return nil
}

func (s *fakeSink) Hosts(n domain.NetworkType) []domain.Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Host(nil), s.hosts[n]...)
}
