package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

func TestDispatcherRunsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []domain.ServiceID
	)
	d := newDispatcher(func(c command) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.id)
	})
	defer d.close()

	var want []domain.ServiceID
	for i := domain.ServiceID(1); i <= 200; i++ {
		require.NoError(t, d.post(command{kind: cmdQueryID, id: i}))
		want = append(want, i)
	}

	done := make(chan error, 1)
	require.NoError(t, d.post(command{kind: cmdBarrier, done: done}))
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestDispatcherCloseDropsPending(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	var (
		mu  sync.Mutex
		ran []cmdKind
	)
	d := newDispatcher(func(c command) {
		mu.Lock()
		ran = append(ran, c.kind)
		mu.Unlock()
		if c.kind == cmdStart {
			close(started)
			<-gate
		}
	})

	require.NoError(t, d.post(command{kind: cmdStart}))
	<-started

	require.NoError(t, d.post(command{kind: cmdSave}))
	barrier := make(chan error, 1)
	require.NoError(t, d.post(command{kind: cmdBarrier, done: barrier}))
	assert.Equal(t, 2, d.pending())

	closed := make(chan struct{})
	go func() {
		d.close()
		close(closed)
	}()

	require.Eventually(t, func() bool {
		return d.post(command{kind: cmdSave}) == ErrStopped
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, <-barrier, ErrStopped)

	select {
	case <-closed:
		t.Fatal("close returned while a command was running")
	default:
	}
	close(gate)
	<-closed

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []cmdKind{cmdStart}, ran)

	d.close()
}

func TestBarrierAfterStop(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.Stop()

	assert.ErrorIs(t, m.Barrier(t.Context()), ErrStopped)
	assert.ErrorIs(t, m.QueryNetwork(domain.NetworkG2), ErrStopped)
}
