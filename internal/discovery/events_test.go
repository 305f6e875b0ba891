package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestNotifierKeepsOrderPerSubscriber(t *testing.T) {
	n := newNotifier(nil)
	defer n.close()

	events, cancel := n.subscribe(64)
	defer cancel()

	for id := domain.ServiceID(1); id <= 50; id++ {
		n.emit(Event{Kind: EventServiceAdded, ID: id})
	}
	for id := domain.ServiceID(1); id <= 50; id++ {
		assert.Equal(t, id, recv(t, events).ID)
	}
}

func TestNotifierUnsubscribeLeavesOthers(t *testing.T) {
	n := newNotifier(nil)
	defer n.close()

	first, cancelFirst := n.subscribe(4)
	second, cancelSecond := n.subscribe(4)
	defer cancelSecond()

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open)

	n.emit(Event{Kind: EventServiceRemoved, ID: 7})
	assert.Equal(t, domain.ServiceID(7), recv(t, second).ID)
}

func TestNotifierDropsForSlowSubscriber(t *testing.T) {
	dropped := make(chan Event, 4)
	n := newNotifier(func(ev Event) { dropped <- ev })

	events, _ := n.subscribe(1)
	n.emit(Event{Kind: EventServiceAdded, ID: 1})
	n.emit(Event{Kind: EventServiceAdded, ID: 2})
	n.close()

	assert.Equal(t, domain.ServiceID(1), recv(t, events).ID)
	_, open := <-events
	assert.False(t, open)

	select {
	case ev := <-dropped:
		assert.Equal(t, domain.ServiceID(2), ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a dropped event")
	}
}
