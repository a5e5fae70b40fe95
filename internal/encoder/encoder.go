// Package encoder drives a streaming AAC encoder through its buffer exchange
// protocol and frames every AAC payload it returns as ADTS.
//
// A backend implements Encoder and hands out one Session per conversion.
// Sessions follow the input/output buffer model of hardware codecs: the
// caller acquires an input slot, fills it with PCM and submits it, then
// drains whatever encoded packets are ready.
package encoder

import (
	"context"
	"errors"
	"time"

	"github.com/satindergrewal/oggaac/internal/audio"
)

const (
	// DefaultTimeout bounds each AcquireInput and Drain wait.
	DefaultTimeout = 5 * time.Millisecond

	// DefaultInputBufferSize is the capacity backends offer per input slot.
	DefaultInputBufferSize = 64 * 1024

	// SamplesPerFrame is the number of samples per channel in an AAC-LC
	// access unit.
	SamplesPerFrame = 1024
)

// ErrEncode marks failures of the encoder itself, as opposed to I/O on
// the output.
var ErrEncode = errors.New("encoder: encode failed")

// Config is the configuration of a single encode.
type Config struct {
	Format  audio.Format
	BitRate int
	// Speed asks the backend to favour encode speed over quality.
	Speed bool
	// InputBufferSize overrides DefaultInputBufferSize when positive.
	InputBufferSize int
}

func (c Config) inputBufferSize() int {
	if c.InputBufferSize > 0 {
		return c.InputBufferSize
	}
	return DefaultInputBufferSize
}

// Packet is one unit of encoder output. PresentationTime is in
// microseconds.
type Packet struct {
	Payload []byte
	// ConfigOnly packets carry codec configuration (an AudioSpecificConfig)
	// rather than audio and are never written to the output.
	ConfigOnly       bool
	PresentationTime uint64
	EndOfStream      bool
}

// Encoder creates encode sessions.
type Encoder interface {
	Name() string
	Configure(ctx context.Context, cfg Config) (Session, error)
}

// Session is one configured encoder instance. It is not safe for concurrent
// use; Release must be called exactly once when done.
type Session interface {
	// AcquireInput waits up to timeout for a free input slot and returns its
	// capacity in bytes. ok is false when no slot became free in time.
	AcquireInput(timeout time.Duration) (capacity int, ok bool, err error)

	// Feed submits PCM into the acquired slot. The final call passes no
	// data and eos set.
	Feed(pcm []byte, pts uint64, eos bool) error

	// Drain waits up to timeout for an encoded packet. ok is false when
	// none is ready.
	Drain(timeout time.Duration) (pkt Packet, ok bool, err error)

	Release() error
}

// presentationTime returns the duration of n samples per channel in
// microseconds.
func presentationTime(samples, sampleRate int) uint64 {
	if sampleRate <= 0 {
		return 0
	}
	return 1_000_000 * uint64(samples) / uint64(sampleRate)
}
