// Package callback runs observer callbacks on a dedicated goroutine so
// they never execute on the render thread or under a caller's lock.
package callback

import (
	"log/slog"
	"sync"
)

const queueDepth = 64

// Executor runs posted functions one at a time, in order.
type Executor struct {
	log *slog.Logger

	mu     sync.Mutex
	tasks  chan func()
	closed bool
	done   chan struct{}
}

// NewExecutor starts an executor goroutine.
func NewExecutor(log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		log:   log.With("component", "callback"),
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for fn := range e.tasks {
		e.invoke(fn)
	}
}

func (e *Executor) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("callback panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn. It returns false after Close. Post blocks while the
// queue is full.
func (e *Executor) Post(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.tasks <- fn
	return true
}

// Close runs the queued callbacks and stops the executor.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()
	<-e.done
}
