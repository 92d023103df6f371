// Package dedup serializes executions that share a fingerprint and remembers
// recent successful outcomes for a trailing window.
//
// A caller first Acquires the fingerprint. Exactly one caller holds the lease at
// any time; the others see the execution in flight and may wait for it. When the
// holder releases a successful outcome, identical calls within the window receive
// that outcome instead of running again. A failed outcome frees the fingerprint
// immediately so the call can be retried.
package dedup

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/toolgate/internal/metrics"
)

// DefaultWindow is used when Options.Window is zero.
const DefaultWindow = 30 * time.Second

// Status is the result of an Acquire call.
type Status int

const (
	// Leased means the caller owns the execution and must Release the lease.
	Leased Status = iota
	// InFlight means an identical execution is running.
	InFlight
	// RecentlyCompleted means an identical execution succeeded within the window.
	RecentlyCompleted
)

func (s Status) String() string {
	switch s {
	case Leased:
		return "leased"
	case InFlight:
		return "in_flight"
	case RecentlyCompleted:
		return "recently_completed"
	default:
		return "unknown"
	}
}

// Outcome is what the lease holder reports back.
type Outcome struct {
	Success     bool
	Value       any
	CompletedAt time.Time
}

// Options configures a Deduplicator.
type Options struct {
	Window time.Duration
	// SweepInterval is how often expired entries are dropped. Defaults to one minute.
	SweepInterval time.Duration
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

type entry struct {
	leaseID   string
	done      chan struct{}
	outcome   Outcome
	completed bool
	expiresAt time.Time
}

// Deduplicator tracks fingerprints that are running or recently succeeded.
type Deduplicator struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Deduplicator and starts its janitor. Call Close to stop it.
func New(opts Options) *Deduplicator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Deduplicator{
		opts:    opts,
		now:     now,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}

	go d.cleanup()

	return d
}

// Window returns the configured dedup window.
func (d *Deduplicator) Window() time.Duration { return d.opts.Window }

// Acquisition is the answer to Acquire.
type Acquisition struct {
	Status Status
	// Lease is set when Status is Leased.
	Lease *Lease
	// Prior is set when Status is RecentlyCompleted.
	Prior Outcome

	sibling *entry
}

// Wait blocks until the in-flight sibling releases its lease and returns its outcome.
// It returns immediately for acquisitions that are not InFlight.
func (a Acquisition) Wait(ctx context.Context) (Outcome, error) {
	switch a.Status {
	case RecentlyCompleted:
		return a.Prior, nil
	case Leased:
		return Outcome{}, nil
	}
	select {
	case <-a.sibling.done:
		return a.sibling.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Acquire claims fingerprint fp or reports why it cannot be claimed.
func (d *Deduplicator) Acquire(fp string) Acquisition {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[fp]; ok {
		switch {
		case !e.completed:
			return Acquisition{Status: InFlight, sibling: e}
		case d.now().Before(e.expiresAt):
			return Acquisition{Status: RecentlyCompleted, Prior: e.outcome}
		default:
			delete(d.entries, fp)
		}
	}

	leaseID, _ := gonanoid.New()
	e := &entry{
		leaseID: leaseID,
		done:    make(chan struct{}),
	}
	d.entries[fp] = e
	d.opts.Metrics.LeaseAcquired()

	return Acquisition{
		Status: Leased,
		Lease:  &Lease{d: d, fp: fp, e: e},
	}
}

// Forget drops whatever is recorded for fp. A running lease keeps running
// but its outcome will not be remembered.
func (d *Deduplicator) Forget(fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, fp)
}

// Len returns the number of tracked fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops the janitor.
func (d *Deduplicator) Close() {
	if d.cancel != nil {
		d.cancel()
	}
}

// cleanup periodically removes expired entries
func (d *Deduplicator) cleanup() {
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Sweep drops completed entries whose window has passed.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	removed := 0
	for fp, e := range d.entries {
		if e.completed && !now.Before(e.expiresAt) {
			delete(d.entries, fp)
			removed++
		}
	}
	return removed
}

// Lease is the exclusive right to execute one fingerprint.
type Lease struct {
	d    *Deduplicator
	fp   string
	e    *entry
	once sync.Once
}

// ID returns the lease token.
func (l *Lease) ID() string { return l.e.leaseID }

// Fingerprint returns the leased fingerprint.
func (l *Lease) Fingerprint() string { return l.fp }

// Release ends the lease with outcome and wakes waiting siblings.
// Only the first call has any effect.
func (l *Lease) Release(outcome Outcome) {
	l.once.Do(func() {
		d := l.d
		if outcome.CompletedAt.IsZero() {
			outcome.CompletedAt = d.now()
		}

		d.mu.Lock()
		l.e.outcome = outcome
		if d.entries[l.fp] == l.e {
			if outcome.Success {
				l.e.completed = true
				l.e.expiresAt = outcome.CompletedAt.Add(d.opts.Window)
			} else {
				delete(d.entries, l.fp)
			}
		}
		d.mu.Unlock()

		d.opts.Metrics.LeaseReleased()
		close(l.e.done)
	})
}
