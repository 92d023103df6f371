package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventLoop(t *testing.T) {
	d := createTestDaemon(t)

	el := NewEventLoop(d)
	assert.Equal(t, d, el.daemon)
	assert.Equal(t, maintenanceInterval, el.interval)
}

func TestEventLoopRun(t *testing.T) {
	d := createTestDaemon(t)
	el := NewEventLoop(d)
	el.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		el.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop in time")
	}
}

func TestEventLoopProcessTasks(t *testing.T) {
	d := createTestDaemon(t)
	m := d.Manager()

	groups := m.ListTools(context.Background(), "", "C1")
	require.Len(t, groups, 1)
	require.Equal(t, 1, m.Cache().Len())

	// Fresh entries survive a tick.
	NewEventLoop(d).processTasks()
	assert.Equal(t, 1, m.Cache().Len())
}
