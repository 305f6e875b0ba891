package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// Flusher persists the registry. Save(false) is a no-op when nothing changed.
type Flusher interface {
	Save(force bool) bool
}

// Saver periodically asks the registry to persist pending changes.
type Saver struct {
	reg      Flusher
	interval time.Duration
	logger   logger.Logger
	loop     *loop
}

// NewSaver creates a new saver
func NewSaver(reg Flusher, interval time.Duration, clk clock.Clock, log logger.Logger) *Saver {
	return &Saver{
		reg:      reg,
		interval: interval,
		logger:   log,
		loop:     newLoop(clk),
	}
}

// Start begins the periodic save
func (s *Saver) Start(ctx context.Context) error {
	s.loop.start(ctx, job{interval: s.interval, fn: s.Flush})
	return nil
}

// Stop stops the saver. The registry saves on its own shutdown.
func (s *Saver) Stop() {
	s.loop.stop()
}

// Flush queues a save when the registry has unsaved changes.
func (s *Saver) Flush(context.Context) {
	if s.reg.Save(false) {
		s.logger.Debug("registry clean, nothing to save")
		return
	}
	s.logger.Debug("save queued")
}
