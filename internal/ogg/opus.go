package ogg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/satindergrewal/oggaac/internal/audio"
)

// OpusSampleRate is the rate every Opus stream decodes at.
const OpusSampleRate = 48000

var opusMagic = []byte("OpusHead")

// OpusHead is the content of an Opus identification header.
type OpusHead struct {
	Version         uint8
	Channels        int
	PreSkip         int
	InputSampleRate int
	OutputGain      int16
	MappingFamily   uint8
}

// ParseOpusHead decodes an OpusHead packet.
func ParseOpusHead(pkt []byte) (OpusHead, error) {
	if len(pkt) < 19 || !bytes.HasPrefix(pkt, opusMagic) {
		return OpusHead{}, fmt.Errorf("ogg: %w: not an OpusHead packet", audio.ErrUnsupported)
	}
	h := OpusHead{
		Version:         pkt[8],
		Channels:        int(pkt[9]),
		PreSkip:         int(binary.LittleEndian.Uint16(pkt[10:])),
		InputSampleRate: int(binary.LittleEndian.Uint32(pkt[12:])),
		OutputGain:      int16(binary.LittleEndian.Uint16(pkt[16:])),
		MappingFamily:   pkt[18],
	}
	if h.Version>>4 != 0 {
		return h, fmt.Errorf("ogg: unsupported opus version %d", h.Version)
	}
	if h.Channels == 0 {
		return h, fmt.Errorf("ogg: opus stream with zero channels")
	}
	return h, nil
}

// OpusProber reads the channel count of an Ogg Opus file. The sample rate
// is always 48 kHz, the rate Opus decodes at, regardless of the input rate
// recorded in the header.
type OpusProber struct{}

func (OpusProber) Name() string { return "opus" }

func (OpusProber) Probe(ctx context.Context, path string) (audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, err
	}
	defer f.Close()

	_, hdr, err := oggreader.NewWith(f)
	if err != nil {
		return audio.Format{}, fmt.Errorf("ogg: %w: %v", audio.ErrUnsupported, err)
	}
	if hdr.Channels == 0 {
		return audio.Format{}, fmt.Errorf("ogg: opus stream with zero channels")
	}
	return audio.Format{SampleRate: OpusSampleRate, Channels: int(hdr.Channels)}, nil
}
