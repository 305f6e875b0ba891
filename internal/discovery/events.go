package discovery

import (
	"slices"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

// EventKind tells subscribers what happened to a service.
type EventKind uint8

const (
	EventServiceAdded EventKind = iota + 1
	EventServiceRemoved
	EventServiceInfo
)

func (k EventKind) String() string {
	switch k {
	case EventServiceAdded:
		return "service_added"
	case EventServiceRemoved:
		return "service_removed"
	case EventServiceInfo:
		return "service_info"
	default:
		return "unknown"
	}
}

// Event is a notification about one service. Service is a snapshot; for
// removals only ID is meaningful.
type Event struct {
	Kind    EventKind
	ID      domain.ServiceID
	Service domain.Service
}

// topicRegistry carries every Event; one topic keeps the kinds ordered.
const topicRegistry = "discovery:registry"

// notifier publishes registry events on an EventBus. Each subscription is a
// transactional async handler, so deliveries to one subscriber stay in order
// while the handler itself never blocks: a subscriber that does not keep up
// loses events.
type notifier struct {
	mu     sync.Mutex
	bus    evbus.Bus
	subs   []*subscription
	closed bool

	onDrop func(Event)
}

type subscription struct {
	mu     sync.Mutex
	ch     chan Event
	ended  bool
	onDrop func(Event)
}

func (s *subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.ch <- ev:
	default:
		if s.onDrop != nil {
			s.onDrop(ev)
		}
	}
}

func (s *subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

func newNotifier(onDrop func(Event)) *notifier {
	return &notifier{bus: evbus.New(), onDrop: onDrop}
}

func (n *notifier) subscribe(buf int) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, max(buf, 0)), onDrop: n.onDrop}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		sub.end()
		return sub.ch, func() {}
	}
	if err := n.bus.SubscribeAsync(topicRegistry, sub.deliver, true); err != nil {
		sub.end()
		return sub.ch, func() {}
	}
	n.subs = append(n.subs, sub)

	var once sync.Once
	return sub.ch, func() { once.Do(func() { n.unsubscribe(sub) }) }
}

// EventBus matches handlers by code pointer, which every deliver method value
// shares, so an ended subscription is dropped by rebuilding the bus from the
// remaining ones.
func (n *notifier) unsubscribe(sub *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx := slices.Index(n.subs, sub)
	if idx < 0 {
		return
	}
	n.subs = slices.Delete(n.subs, idx, idx+1)

	n.bus.WaitAsync()
	n.bus = evbus.New()
	for _, s := range n.subs {
		_ = n.bus.SubscribeAsync(topicRegistry, s.deliver, true)
	}
	sub.end()
}

// Requires lock: no (the registry lock may be held)
func (n *notifier) emit(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || len(n.subs) == 0 {
		return
	}
	n.bus.Publish(topicRegistry, ev)
}

// close delivers what is in flight, then ends every subscription.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.bus.WaitAsync()
	for _, s := range n.subs {
		s.end()
	}
	n.subs = nil
}
