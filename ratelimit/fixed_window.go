package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// FixedWindow is a process-local fixed window counter, used to gate WebSocket
// connection attempts where admission never needs to coordinate across
// instances. State lives in a plain map under a mutex; expired windows are
// pruned lazily whenever the map grows past a watermark.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	opt     *FixedWindowOption

	// Now is injectable for tests.
	Now func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

type FixedWindowOption struct {
	Limit  int64
	Window time.Duration
}

func (opt *FixedWindowOption) Valid() error {
	if opt.Limit <= 0 {
		return fmt.Errorf("%w: limit must be greater than 0", Error)
	}
	if opt.Window <= 0 {
		return fmt.Errorf("%w: window must be greater than 0", Error)
	}

	return nil
}

// pruneWatermark bounds map growth between sweeps.
const pruneWatermark = 1024

func NewFixedWindow(opt *FixedWindowOption) *FixedWindow {
	if opt == nil {
		panic("ratelimit: option is nil")
	}
	if err := opt.Valid(); err != nil {
		panic(err)
	}

	return &FixedWindow{
		windows: make(map[string]*window),
		opt:     opt,
		Now:     time.Now,
	}
}

// Allow decides one request for key.
func (f *FixedWindow) Allow(key string) *Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.Now()

	w, ok := f.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(f.windows) >= pruneWatermark {
			f.prune(now)
		}
		w = &window{resetAt: now.Add(f.opt.Window)}
		f.windows[key] = w
	}

	if w.count < f.opt.Limit {
		w.count++
		return &Result{
			Allow:     true,
			Limit:     f.opt.Limit,
			Remaining: f.opt.Limit - w.count,
			ResetAt:   w.resetAt,
			RetryAt:   now,
		}
	}

	return &Result{
		Allow:     false,
		Limit:     f.opt.Limit,
		Remaining: 0,
		ResetAt:   w.resetAt,
		RetryAt:   w.resetAt,
	}
}

// Reset drops all state for key.
func (f *FixedWindow) Reset(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.windows, key)
}

// prune removes expired windows. Caller holds the lock.
func (f *FixedWindow) prune(now time.Time) {
	for key, w := range f.windows {
		if !now.Before(w.resetAt) {
			delete(f.windows, key)
		}
	}
}
