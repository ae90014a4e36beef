// Package looper runs a single goroutine that owns a time-ordered message
// queue. It is the render thread: every GL call of the pipeline is made
// from a handler running on it.
package looper

import (
	"sync"
	"time"
)

// Message is one unit of work. When is the delivery time in milliseconds on
// the looper clock.
type Message struct {
	What     int
	Arg1     int
	Arg2     int
	Obj      any
	When     int64
	Callback func()
}

// Looper dispatches messages to a handler on its own goroutine.
type Looper struct {
	handler func(*Message)
	start   time.Time

	mu       sync.Mutex
	queue    []*Message
	quitting bool
	running  bool

	wake chan struct{}
	done chan struct{}
}

// New returns a looper delivering to handler. Call Start to run it.
func New(handler func(*Message)) *Looper {
	return &Looper{
		handler: handler,
		start:   time.Now(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Now returns the looper clock in milliseconds.
func (l *Looper) Now() int64 {
	return time.Since(l.start).Milliseconds()
}

// Start launches the loop goroutine. It is a no-op after the first call.
func (l *Looper) Start() {
	l.mu.Lock()
	if l.running || l.quitting {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	go l.loop()
}

func (l *Looper) loop() {
	defer close(l.done)
	var timer *time.Timer
	for {
		l.mu.Lock()
		now := l.Now()
		if len(l.queue) > 0 && l.queue[0].When <= now {
			m := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.dispatch(m)
			continue
		}
		if l.quitting && len(l.queue) == 0 {
			l.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return
		}
		wait := time.Duration(-1)
		if len(l.queue) > 0 {
			wait = time.Duration(l.queue[0].When-now) * time.Millisecond
		}
		l.mu.Unlock()

		if wait < 0 {
			<-l.wake
			continue
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-l.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

func (l *Looper) dispatch(m *Message) {
	if m.Callback != nil {
		m.Callback()
		return
	}
	if l.handler != nil {
		l.handler(m)
	}
}

func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// enqueue inserts m after every message due no later than m.When.
func (l *Looper) enqueue(m *Message, front bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quitting {
		return false
	}
	if front {
		l.queue = append([]*Message{m}, l.queue...)
	} else {
		i := len(l.queue)
		for i > 0 && l.queue[i-1].When > m.When {
			i--
		}
		l.queue = append(l.queue, nil)
		copy(l.queue[i+1:], l.queue[i:])
		l.queue[i] = m
	}
	l.signal()
	return true
}

// Send queues m for delivery now, behind messages already due. It returns
// false once the looper is quitting.
func (l *Looper) Send(m *Message) bool {
	m.When = l.Now()
	return l.enqueue(m, false)
}

// SendAtFront queues m ahead of every pending message.
func (l *Looper) SendAtFront(m *Message) bool {
	m.When = 0
	return l.enqueue(m, true)
}

// SendAt queues m for delivery at when (looper milliseconds).
func (l *Looper) SendAt(m *Message, when int64) bool {
	m.When = when
	return l.enqueue(m, false)
}

// SendDelayed queues m for delivery after delay.
func (l *Looper) SendDelayed(m *Message, delay time.Duration) bool {
	if delay < 0 {
		delay = 0
	}
	return l.SendAt(m, l.Now()+delay.Milliseconds())
}

// Post runs fn on the loop goroutine.
func (l *Looper) Post(fn func()) bool {
	return l.Send(&Message{What: -1, Callback: fn})
}

// Call runs fn on the loop goroutine and waits for it to return. It
// returns false if the looper is quitting or already stopped.
func (l *Looper) Call(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.done:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Remove drops every pending message with the given What.
func (l *Looper) Remove(what int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.queue[:0]
	for _, m := range l.queue {
		if m.What != what {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(l.queue); i++ {
		l.queue[i] = nil
	}
	l.queue = kept
}

// Has reports whether a message with the given What is pending.
func (l *Looper) Has(what int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.queue {
		if m.What == what {
			return true
		}
	}
	return false
}

// Pending returns the number of queued messages.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// QuitSafely drops messages scheduled in the future, delivers the ones
// already due and then stops the loop. Later sends are rejected.
func (l *Looper) QuitSafely() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quitting {
		return
	}
	l.quitting = true
	now := l.Now()
	kept := l.queue[:0]
	for _, m := range l.queue {
		if m.When <= now {
			kept = append(kept, m)
		}
	}
	l.queue = kept
	if !l.running {
		l.running = true
		go l.loop()
	}
	l.signal()
}

// Done is closed when the loop goroutine has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}
