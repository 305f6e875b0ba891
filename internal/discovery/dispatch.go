package discovery

import (
	"sync"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

type cmdKind uint8

const (
	cmdStart cmdKind = iota
	cmdSave
	cmdServiceList
	cmdUpdateNetwork
	cmdUpdateID
	cmdQueryNetwork
	cmdQueryID
	cmdBarrier
)

func (k cmdKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdSave:
		return "save"
	case cmdServiceList:
		return "service_list"
	case cmdUpdateNetwork:
		return "update_network"
	case cmdUpdateID:
		return "update_id"
	case cmdQueryNetwork:
		return "query_network"
	case cmdQueryID:
		return "query_id"
	case cmdBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// command is one unit of work for the dispatch worker.
type command struct {
	kind    cmdKind
	network domain.NetworkType
	id      domain.ServiceID

	// done is signalled once the command ran (nil) or was dropped (ErrStopped).
	// Buffered with capacity 1.
	done chan error
}

// dispatcher runs posted commands one at a time, in order, on its own
// goroutine. The queue is unbounded so post never blocks.
type dispatcher struct {
	handle func(command)

	mu     sync.Mutex
	queue  []command
	closed bool

	wake chan struct{}
	done chan struct{}
}

// newDispatcher starts the worker. close must be called to stop it.
func newDispatcher(handle func(command)) *dispatcher {
	d := &dispatcher{
		handle: handle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) post(c command) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrStopped
	}
	d.queue = append(d.queue, c)
	d.mu.Unlock()

	d.signal()
	return nil
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		c, ok := d.next()
		if !ok {
			return
		}
		d.handle(c)
		if c.done != nil {
			c.done <- nil
		}
	}
}

func (d *dispatcher) next() (command, bool) {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return command{}, false
		}
		if len(d.queue) > 0 {
			c := d.queue[0]
			d.queue[0] = command{}
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return c, true
		}
		d.mu.Unlock()
		<-d.wake
	}
}

// pending returns the number of queued commands.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// close stops accepting commands, drops the pending ones and waits for the
// command being executed, if any. Safe to call more than once.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	dropped := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, c := range dropped {
		if c.done != nil {
			c.done <- ErrStopped
		}
	}
	d.signal()
	<-d.done
}
