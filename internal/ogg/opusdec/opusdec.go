// Package opusdec decodes Ogg Opus files in process with libopus.
package opusdec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/oggaac/internal/audio"
	"github.com/satindergrewal/oggaac/internal/ogg"
)

// maxFrameSamples is the longest Opus packet (120 ms) at 48 kHz.
const maxFrameSamples = 5760

// Decoder implements audio.Decoder for Ogg Opus. It always produces 48 kHz
// PCM in the stream's own channel layout; resampling is left to the caller.
type Decoder struct{}

func (Decoder) Name() string { return "opus" }

func (Decoder) Decode(ctx context.Context, path string, _ audio.Format) (audio.PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.PCM{}, err
	}
	defer f.Close()
	return decodeStream(ctx, f)
}

func decodeStream(ctx context.Context, r io.Reader) (audio.PCM, error) {
	pr := ogg.NewPacketReader(r)

	first, err := pr.Next()
	if err != nil {
		return audio.PCM{}, fmt.Errorf("opus: %w: %v", audio.ErrUnsupported, err)
	}
	head, err := ogg.ParseOpusHead(first)
	if err != nil {
		return audio.PCM{}, err
	}
	if head.Channels > audio.MaxChannels || head.MappingFamily != 0 {
		return audio.PCM{}, fmt.Errorf("opus: %w: %d channels, mapping family %d",
			audio.ErrUnsupported, head.Channels, head.MappingFamily)
	}

	// The second packet is OpusTags.
	if _, err := pr.Next(); err != nil {
		return audio.PCM{}, fmt.Errorf("opus: missing comment header: %w", err)
	}

	dec, err := opus.NewDecoder(ogg.OpusSampleRate, head.Channels)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("opus: new decoder: %w", err)
	}

	format := audio.Format{SampleRate: ogg.OpusSampleRate, Channels: head.Channels}
	frame := make([]int16, maxFrameSamples*head.Channels)
	var out []int16
	skip := head.PreSkip

	for {
		if err := ctx.Err(); err != nil {
			return audio.PCM{}, err
		}
		pkt, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.PCM{}, fmt.Errorf("opus: read packet: %w", err)
		}
		if len(pkt) == 0 {
			continue
		}
		n, err := dec.Decode(pkt, frame)
		if err != nil {
			return audio.PCM{}, fmt.Errorf("opus: decode packet: %w", err)
		}
		samples := frame[:n*head.Channels]
		if skip > 0 {
			drop := min(skip, n)
			samples = samples[drop*head.Channels:]
			skip -= drop
		}
		out = append(out, samples...)
	}

	if len(out) == 0 {
		return audio.PCM{}, errors.New("opus: stream has no audio")
	}
	return audio.NewPCM(audio.SamplesToBytes(out), format), nil
}
