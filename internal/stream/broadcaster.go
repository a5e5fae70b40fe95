// Package stream fans conversion progress events out to any number of
// listeners and serves them as a Server-Sent Events feed.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// ListenerBuffer is how many events a listener may fall behind before
// events are dropped for it.
const ListenerBuffer = 64

// Event is one message on the feed. Data is sent verbatim and must not
// contain newlines; JSON produced by encoding/json never does.
type Event struct {
	ID   uint64
	Type string
	Data []byte
}

// Broadcaster fans out events from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	seq       atomic.Uint64
}

// Listener receives events from the broadcaster.
type Listener struct {
	C    chan Event
	done chan struct{}
	once sync.Once
}

// Done is closed once the listener has been unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan Event, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice
// is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish stamps ev with the next sequence number and delivers it to every
// listener that has room. It never blocks.
func (b *Broadcaster) Publish(ev Event) Event {
	ev.ID = b.seq.Add(1)
	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- ev:
		default:
			// listener too slow, drop to keep the feed moving
		}
	}
	b.mu.RUnlock()
	return ev
}

// Run publishes everything read from source until ctx is done or source
// is closed.
func (b *Broadcaster) Run(ctx context.Context, source <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-source:
			if !ok {
				return
			}
			b.Publish(ev)
		}
	}
}
