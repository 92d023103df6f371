package server

import (
	"sync"
	"time"
)

// RateLimiter allows at most limit requests per key within a sliding window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter allowing perMinute requests per key.
// It starts a sweeper that drops idle keys until Stop is called.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := newRateLimiter(perMinute, time.Minute, time.Now)
	go rl.sweep(5 * time.Minute)
	return rl
}

func newRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		entries: make(map[string][]time.Time),
		stop:    make(chan struct{}),
	}
}

// Allow records a request for key and reports whether it is within the limit.
// A rejected request is not counted. The second result is how long until the
// oldest counted request leaves the window.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	ok, _, retry := rl.AllowBatch([]string{key})
	return ok, retry
}

// AllowBatch records one request per element of keys, all or nothing.
// When any key would go over the limit nothing is counted, and that key is
// returned with how long until it has room for its share of the batch.
func (rl *RateLimiter) AllowBatch(keys []string) (bool, string, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	need := make(map[string]int, len(keys))
	for _, key := range keys {
		need[key]++
	}

	for _, key := range keys {
		recent := rl.prune(rl.entries[key], now)
		rl.entries[key] = recent
		over := len(recent) + need[key] - rl.limit
		if over <= 0 {
			continue
		}
		if over > len(recent) {
			return false, key, rl.window
		}
		return false, key, rl.window - now.Sub(recent[over-1])
	}

	for key, n := range need {
		for i := 0; i < n; i++ {
			rl.entries[key] = append(rl.entries[key], now)
		}
	}
	return true, "", 0
}

func (rl *RateLimiter) prune(times []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= rl.window {
		i++
	}
	return times[i:]
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, times := range rl.entries {
		recent := rl.prune(times, now)
		if len(recent) == 0 {
			delete(rl.entries, key)
			continue
		}
		rl.entries[key] = recent
	}
}

// Stop ends the sweeper.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
