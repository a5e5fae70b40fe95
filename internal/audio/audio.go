// Package audio models raw PCM and its format, and produces the PCM a
// conversion encodes: decoded from the source file when a decoder can, or a
// deterministic test tone when none can.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/oggaac/internal/adts"
)

const (
	BitDepth       = 16
	BytesPerSample = BitDepth / 8

	DefaultSampleRate = 44100
	DefaultChannels   = 2
	MaxChannels       = 2
)

// DefaultFormat is used whenever the source format cannot be determined.
var DefaultFormat = Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}

// ErrUnsupported is returned by probers and decoders that do not handle the
// given file. It is not a failure of the file itself.
var ErrUnsupported = errors.New("audio: unsupported input")

// Format is the sample rate and channel count of interleaved s16le PCM.
type Format struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// Valid reports whether f can be encoded: a rate with an ADTS index and one
// or two channels.
func (f Format) Valid() bool {
	return adts.IsSupportedRate(f.SampleRate) && f.Channels >= 1 && f.Channels <= MaxChannels
}

// FrameBytes is the size of one multi-channel sample.
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

// Duration returns the play time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := int64(n / f.FrameBytes())
	return time.Duration(samples * int64(time.Second) / int64(f.SampleRate))
}

func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// PCM is interleaved signed 16-bit little-endian audio. len(Data) is always a
// multiple of Format.FrameBytes().
type PCM struct {
	Data   []byte
	Format Format
}

// NewPCM wraps data, dropping any trailing bytes that do not form a whole
// multi-channel sample.
func NewPCM(data []byte, f Format) PCM {
	if fb := f.FrameBytes(); fb > 0 {
		data = data[:len(data)-len(data)%fb]
	}
	return PCM{Data: data, Format: f}
}

// Samples returns the number of samples per channel.
func (p PCM) Samples() int {
	fb := p.Format.FrameBytes()
	if fb == 0 {
		return 0
	}
	return len(p.Data) / fb
}

// Duration returns the play time of p.
func (p PCM) Duration() time.Duration {
	return p.Format.Duration(len(p.Data))
}
