package render

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zsiec/camcorder/filter"
)

// FilterLockTimeout bounds how long the render thread waits for the
// filter lock before drawing the passthrough instead.
const FilterLockTimeout = 3 * time.Millisecond

// FilterGate hands a video filter from the caller to the render thread.
// Setters wait for the lock; the render thread only tries it for a bounded
// time.
type FilterGate struct {
	sem     *semaphore.Weighted
	timeout time.Duration

	pending filter.VideoFilter // guarded by sem

	contended atomic.Int64
}

// NewFilterGate returns a gate whose render-side acquisition gives up after
// timeout. Zero means FilterLockTimeout.
func NewFilterGate(timeout time.Duration) *FilterGate {
	if timeout <= 0 {
		timeout = FilterLockTimeout
	}
	return &FilterGate{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Set installs f, calling configure under the lock first so the filter sees
// the current geometry before its first draw. f may be nil.
func (g *FilterGate) Set(f filter.VideoFilter, configure func(filter.VideoFilter)) {
	_ = g.sem.Acquire(context.Background(), 1)
	defer g.sem.Release(1)
	if f != nil && configure != nil {
		configure(f)
	}
	g.pending = f
}

// Current returns the installed filter, waiting for the lock.
func (g *FilterGate) Current() filter.VideoFilter {
	_ = g.sem.Acquire(context.Background(), 1)
	defer g.sem.Release(1)
	return g.pending
}

// tryLock acquires the lock within the gate timeout. On success the caller
// must call unlock.
func (g *FilterGate) tryLock() bool {
	if g.sem.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.contended.Add(1)
		return false
	}
	return true
}

func (g *FilterGate) unlock() { g.sem.Release(1) }

// lock waits for the lock without a bound. Only teardown uses it.
func (g *FilterGate) lock() { _ = g.sem.Acquire(context.Background(), 1) }

// Contended returns how many render-side acquisitions timed out.
func (g *FilterGate) Contended() int64 { return g.contended.Load() }
