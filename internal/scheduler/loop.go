// Package scheduler runs the periodic background work around the registry:
// polling discovery services, saving, pruning and mirroring to Redis.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type job struct {
	interval time.Duration
	fn       func(ctx context.Context)
}

// loop runs jobs on their own tickers until stop is called or ctx ends.
type loop struct {
	clock  clock.Clock
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newLoop(clk clock.Clock) *loop {
	if clk == nil {
		clk = clock.New()
	}
	return &loop{clock: clk, stopCh: make(chan struct{})}
}

func (l *loop) start(ctx context.Context, jobs ...job) {
	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		ticker := l.clock.Ticker(j.interval)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					j.fn(ctx)
				case <-l.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// stop ends every job and waits for a running one to return.
func (l *loop) stop() {
	l.once.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}
