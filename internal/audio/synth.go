package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	ToneFrequency = 440.0
	ToneAmplitude = 0.8

	// FallbackDuration is the length of the tone used when no decoder
	// produced PCM.
	FallbackDuration = 5 * time.Second
)

// GenerateSine returns a 440 Hz sine tone at 80% of full scale. Sample i has
// the value round(0.8*32767*sin(2π*440*i/rate)); stereo output carries the
// same value in both channels. The output depends only on its arguments.
func GenerateSine(f Format, d time.Duration) (PCM, error) {
	if d <= 0 {
		return PCM{}, fmt.Errorf("audio: sine duration %v must be positive", d)
	}
	if f.SampleRate <= 0 || f.Channels < 1 || f.Channels > MaxChannels {
		return PCM{}, fmt.Errorf("audio: invalid sine format %s", f)
	}

	n := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	fb := f.FrameBytes()
	buf := make([]byte, n*fb)

	rate := float64(f.SampleRate)
	for i := range n {
		phase := 2 * math.Pi * ToneFrequency * float64(i) / rate
		v := int16(math.Round(ToneAmplitude * math.MaxInt16 * math.Sin(phase)))
		off := i * fb
		for ch := range f.Channels {
			binary.LittleEndian.PutUint16(buf[off+ch*BytesPerSample:], uint16(v))
		}
	}
	return PCM{Data: buf, Format: f}, nil
}
