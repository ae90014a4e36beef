package synthetic

import (
	"sync"
	"time"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/media"
)

// outputQueue holds encoded packets until the drain goroutine polls them.
type outputQueue struct {
	mu     sync.Mutex
	pkts   []*media.Packet
	ready  chan struct{}
	closed bool
}

func newOutputQueue() *outputQueue {
	return &outputQueue{ready: make(chan struct{}, 1)}
}

func (q *outputQueue) push(p *media.Packet) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pkts = append(q.pkts, p)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *outputQueue) pop(timeout time.Duration) (*media.Packet, error) {
	var timer *time.Timer
	for {
		q.mu.Lock()
		if len(q.pkts) > 0 {
			p := q.pkts[0]
			q.pkts[0] = nil
			q.pkts = q.pkts[1:]
			q.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return p, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, codec.ErrState
		}
		if timeout <= 0 {
			return nil, codec.ErrTryAgain
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return nil, codec.ErrTryAgain
		}
	}
}

func (q *outputQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.pkts = nil
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *outputQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pkts)
}
