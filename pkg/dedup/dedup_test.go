package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDeduplicator(t *testing.T, window time.Duration) (*Deduplicator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := New(Options{Window: window, Now: clock.Now})
	t.Cleanup(d.Close)
	return d, clock
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "leased", Leased.String())
	assert.Equal(t, "in_flight", InFlight.String())
	assert.Equal(t, "recently_completed", RecentlyCompleted.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestDeduplicator_Lifecycle(t *testing.T) {
	d, clock := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("fp1")
	require.Equal(t, Leased, a.Status)
	require.NotNil(t, a.Lease)
	assert.NotEmpty(t, a.Lease.ID())
	assert.Equal(t, "fp1", a.Lease.Fingerprint())

	b := d.Acquire("fp1")
	assert.Equal(t, InFlight, b.Status)
	assert.Nil(t, b.Lease)

	other := d.Acquire("fp2")
	assert.Equal(t, Leased, other.Status, "different fingerprints are independent")

	a.Lease.Release(Outcome{Success: true, Value: "sent"})

	clock.Advance(2 * time.Second)
	c := d.Acquire("fp1")
	require.Equal(t, RecentlyCompleted, c.Status)
	assert.Equal(t, "sent", c.Prior.Value)
	assert.True(t, c.Prior.Success)

	clock.Advance(30 * time.Second)
	e := d.Acquire("fp1")
	assert.Equal(t, Leased, e.Status, "window elapsed")
}

func TestDeduplicator_FailureReleasesImmediately(t *testing.T) {
	d, _ := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("fp")
	require.Equal(t, Leased, a.Status)
	a.Lease.Release(Outcome{Success: false, Value: "boom"})

	b := d.Acquire("fp")
	assert.Equal(t, Leased, b.Status)
}

func TestDeduplicator_ReleaseIdempotent(t *testing.T) {
	d, _ := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("fp")
	a.Lease.Release(Outcome{Success: true, Value: 1})
	assert.NotPanics(t, func() { a.Lease.Release(Outcome{Success: false, Value: 2}) })

	b := d.Acquire("fp")
	require.Equal(t, RecentlyCompleted, b.Status)
	assert.Equal(t, 1, b.Prior.Value)
}

func TestAcquisition_Wait(t *testing.T) {
	d, _ := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("fp")
	b := d.Acquire("fp")
	require.Equal(t, InFlight, b.Status)

	got := make(chan Outcome, 1)
	go func() {
		out, err := b.Wait(context.Background())
		assert.NoError(t, err)
		got <- out
	}()

	time.Sleep(10 * time.Millisecond)
	a.Lease.Release(Outcome{Success: true, Value: "done"})

	select {
	case out := <-got:
		assert.Equal(t, "done", out.Value)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestAcquisition_WaitCancelled(t *testing.T) {
	d, _ := newTestDeduplicator(t, 30*time.Second)

	d.Acquire("fp")
	b := d.Acquire("fp")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquisition_WaitNonInFlight(t *testing.T) {
	d, _ := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("fp")
	out, err := a.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)

	a.Lease.Release(Outcome{Success: true, Value: "v"})
	b := d.Acquire("fp")
	out, err = b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", out.Value)
}

func TestDeduplicator_NoOverlapUnderContention(t *testing.T) {
	d := New(Options{Window: time.Millisecond})
	defer d.Close()

	var running, maxRunning, executions atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				a := d.Acquire("same")
				switch a.Status {
				case Leased:
					n := running.Add(1)
					for {
						m := maxRunning.Load()
						if n <= m || maxRunning.CompareAndSwap(m, n) {
							break
						}
					}
					executions.Add(1)
					time.Sleep(time.Millisecond)
					running.Add(-1)
					a.Lease.Release(Outcome{Success: false})
					return
				case InFlight:
					_, _ = a.Wait(context.Background())
				case RecentlyCompleted:
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxRunning.Load())
	assert.EqualValues(t, 40, executions.Load())
}

func TestDeduplicator_Sweep(t *testing.T) {
	d, clock := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("done")
	a.Lease.Release(Outcome{Success: true})
	d.Acquire("running")
	assert.Equal(t, 2, d.Len())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, d.Sweep())
	assert.Equal(t, 1, d.Len(), "running leases are never swept")
}

func TestDeduplicator_Forget(t *testing.T) {
	d, _ := newTestDeduplicator(t, 30*time.Second)

	a := d.Acquire("fp")
	d.Forget("fp")
	b := d.Acquire("fp")
	assert.Equal(t, Leased, b.Status)

	a.Lease.Release(Outcome{Success: true})
	b.Lease.Release(Outcome{Success: true})
	c := d.Acquire("fp")
	assert.Equal(t, RecentlyCompleted, c.Status)
}

func TestDeduplicator_Defaults(t *testing.T) {
	d := New(Options{})
	defer d.Close()
	assert.Equal(t, DefaultWindow, d.Window())
}
