package stream

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}
	b.Unsubscribe(l1)

	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
	select {
	case <-l2.Done():
	default:
		t.Error("Done not closed after unsubscribe")
	}
}

func TestPublishAssignsIDs(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	for i := 1; i <= 3; i++ {
		got := b.Publish(Event{Type: "queued", Data: []byte(`{}`)})
		if got.ID != uint64(i) {
			t.Errorf("Publish #%d ID = %d, want %d", i, got.ID, i)
		}
	}
	for i := 1; i <= 3; i++ {
		ev := <-l.C
		if ev.ID != uint64(i) {
			t.Errorf("received ID = %d, want %d", ev.ID, i)
		}
	}
}

func TestBroadcastMultipleListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan Event, 10)
	go b.Run(ctx, source)

	source <- Event{Type: "done", Data: []byte(`{"id":42}`)}

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if got.Type != "done" || string(got.Data) != `{"id":42}` {
				t.Errorf("Listener %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Errorf("Listener %d timed out", i)
		}
	}
	for _, l := range listeners {
		b.Unsubscribe(l)
	}
}

func TestPublishDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()
	defer b.Unsubscribe(slow)

	for i := 0; i < ListenerBuffer+20; i++ {
		b.Publish(Event{Type: "tick"})
	}
	if n := len(slow.C); n != ListenerBuffer {
		t.Errorf("slow listener holds %d events, want %d", n, ListenerBuffer)
	}
}

func TestRunStops(t *testing.T) {
	tests := []struct {
		name string
		stop func(cancel context.CancelFunc, source chan Event)
	}{
		{"context cancel", func(cancel context.CancelFunc, _ chan Event) { cancel() }},
		{"source close", func(_ context.CancelFunc, source chan Event) { close(source) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroadcaster()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			source := make(chan Event)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Run(ctx, source)
			}()
			tt.stop(cancel, source)

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvent(&buf, Event{ID: 7, Type: "failed", Data: []byte(`{"kind":"DECODE_FAILED"}`)}); err != nil {
		t.Fatal(err)
	}
	want := "event: failed\nid: 7\ndata: {\"kind\":\"DECODE_FAILED\"}\n\n"
	if buf.String() != want {
		t.Errorf("WriteEvent = %q, want %q", buf.String(), want)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(NewSSEHandler(b, time.Hour))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{Type: "queued", Data: []byte(`{"id":1}`)})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		if sc.Text() == "" {
			break
		}
		lines = append(lines, sc.Text())
	}
	got := strings.Join(lines, "|")
	if got != `event: queued|id: 1|data: {"id":1}` {
		t.Errorf("event = %q", got)
	}
}
