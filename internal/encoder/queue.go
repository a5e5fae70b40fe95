package encoder

import (
	"sync"
	"time"
)

// packetQueue is an unbounded FIFO of packets with a timed pop. Backends
// that produce output on their own goroutine push into it so the producer
// never blocks on the consumer.
type packetQueue struct {
	mu     sync.Mutex
	items  []Packet
	err    error
	closed bool
	signal chan struct{}
}

func newPacketQueue() *packetQueue {
	return &packetQueue{signal: make(chan struct{}, 1)}
}

func (q *packetQueue) push(p Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.notify()
}

// close marks the end of output. A non-nil err is reported by pop once
// the queued packets are consumed.
func (q *packetQueue) close(err error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.err = err
	}
	q.mu.Unlock()
	q.notify()
}

func (q *packetQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *packetQueue) tryPop() (Packet, bool, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		p := q.items[0]
		q.items[0] = Packet{}
		q.items = q.items[1:]
		return p, true, q.closed, nil
	}
	return Packet{}, false, q.closed, q.err
}

// pop waits up to timeout for a packet. It returns the close error once the
// queue is closed and empty; a clean close returns ok false and no error.
func (q *packetQueue) pop(timeout time.Duration) (Packet, bool, error) {
	p, ok, closed, err := q.tryPop()
	if ok || closed {
		return p, ok, err
	}
	if timeout <= 0 {
		return Packet{}, false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.signal:
			p, ok, closed, err := q.tryPop()
			if ok || closed {
				return p, ok, err
			}
		case <-timer.C:
			return Packet{}, false, nil
		}
	}
}

func (q *packetQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
