// Package mock provides a scripted encoder.Encoder for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satindergrewal/oggaac/internal/adts"
	"github.com/satindergrewal/oggaac/internal/encoder"
)

// Feed records one Session.Feed call.
type Feed struct {
	Bytes int
	PTS   uint64
	EOS   bool
}

// Encoder hands out sessions that turn every Feed into PacketsPerFeed
// packets of PayloadSize bytes. It records the configs it saw and the
// sessions it created.
type Encoder struct {
	// Capacity is the input slot size; encoder.DefaultInputBufferSize when zero.
	Capacity int
	// PayloadSize is the size of each emitted payload; 256 when zero.
	PayloadSize    int
	PacketsPerFeed int
	// BusyEvery makes every Nth AcquireInput report no free slot.
	BusyEvery int
	// HoldOutput delays packets by this many Drain calls, as a codec with
	// internal latency would.
	HoldOutput int

	ConfigureErr error
	// FailFeedAt makes the Nth Feed (1-based) return FeedErr.
	FailFeedAt int
	FeedErr    error
	DrainErr   error
	// NoEOS suppresses the end-of-stream packet.
	NoEOS bool
	// EOSAfterFeeds emits end of stream after the Nth Feed, before the
	// input has ended, as a codec that stops early would.
	EOSAfterFeeds int

	mu       sync.Mutex
	Configs  []encoder.Config
	Sessions []*Session
}

func (e *Encoder) Name() string { return "mock" }

func (e *Encoder) Configure(_ context.Context, cfg encoder.Config) (encoder.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.ConfigureErr != nil {
		return nil, e.ConfigureErr
	}
	s := &Session{enc: e, cfg: cfg}
	s.out = append(s.out, encoder.Packet{
		Payload:    adts.AudioSpecificConfig(cfg.Format.SampleRate, cfg.Format.Channels),
		ConfigOnly: true,
	})
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// Session is a scripted encoder.Session.
type Session struct {
	enc *Encoder
	cfg encoder.Config

	out      []encoder.Packet
	acquires int
	drains   int

	Feeds    []Feed
	Released int
}

func (s *Session) AcquireInput(time.Duration) (int, bool, error) {
	s.acquires++
	if s.enc.BusyEvery > 0 && s.acquires%s.enc.BusyEvery == 0 {
		return 0, false, nil
	}
	if s.enc.Capacity > 0 {
		return s.enc.Capacity, true, nil
	}
	return encoder.DefaultInputBufferSize, true, nil
}

func (s *Session) Feed(pcm []byte, pts uint64, eos bool) error {
	s.Feeds = append(s.Feeds, Feed{Bytes: len(pcm), PTS: pts, EOS: eos})
	if s.enc.FailFeedAt > 0 && len(s.Feeds) == s.enc.FailFeedAt {
		if s.enc.FeedErr != nil {
			return s.enc.FeedErr
		}
		return errors.New("mock: feed failed")
	}
	if len(pcm) > 0 {
		n := s.enc.PacketsPerFeed
		if n == 0 {
			n = 1
		}
		size := s.enc.PayloadSize
		if size == 0 {
			size = 256
		}
		for range n {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(len(s.out) + i)
			}
			s.out = append(s.out, encoder.Packet{Payload: payload, PresentationTime: pts})
		}
	}
	if !eos && s.enc.EOSAfterFeeds > 0 && len(s.Feeds) == s.enc.EOSAfterFeeds {
		s.out = append(s.out, encoder.Packet{EndOfStream: true, PresentationTime: pts})
	}
	if eos && !s.enc.NoEOS {
		s.out = append(s.out, encoder.Packet{EndOfStream: true, PresentationTime: pts})
	}
	return nil
}

func (s *Session) Drain(time.Duration) (encoder.Packet, bool, error) {
	if s.enc.DrainErr != nil {
		return encoder.Packet{}, false, s.enc.DrainErr
	}
	s.drains++
	if len(s.out) == 0 || s.drains <= s.enc.HoldOutput {
		return encoder.Packet{}, false, nil
	}
	p := s.out[0]
	s.out = s.out[1:]
	return p, true, nil
}

func (s *Session) Release() error {
	s.Released++
	return nil
}

// Pending returns the number of packets not yet drained.
func (s *Session) Pending() int { return len(s.out) }
