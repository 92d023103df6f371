package daemon

import (
	"context"
	"time"
)

const maintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: maintenanceInterval,
	}
}

// Run runs the event loop until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.log.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.log.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks prunes expired tool lists and logs cache and dedup sizes.
func (e *EventLoop) processTasks() {
	m := e.daemon.manager

	pruned := m.Cache().Prune()
	stats := m.Cache().Stats()

	e.daemon.log.Debug().
		Int("pruned", pruned).
		Int("entries", stats.Entries).
		Int64("hits", stats.Hits).
		Int64("misses", stats.Misses).
		Int("fingerprints", m.Dedup().Len()).
		Msg("Maintenance tick")
}
