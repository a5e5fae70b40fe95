package ogg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/satindergrewal/oggaac/internal/audio"
)

var vorbisMagic = []byte("\x01vorbis")

// VorbisInfo is the content of a Vorbis identification header.
type VorbisInfo struct {
	Version        uint32
	Channels       int
	SampleRate     int
	BitrateMax     int32
	BitrateNominal int32
	BitrateMin     int32
}

// ParseVorbisID decodes a Vorbis identification header packet.
func ParseVorbisID(pkt []byte) (VorbisInfo, error) {
	if len(pkt) < 30 || !bytes.HasPrefix(pkt, vorbisMagic) {
		return VorbisInfo{}, fmt.Errorf("ogg: %w: not a vorbis identification header", audio.ErrUnsupported)
	}
	info := VorbisInfo{
		Version:        binary.LittleEndian.Uint32(pkt[7:]),
		Channels:       int(pkt[11]),
		SampleRate:     int(binary.LittleEndian.Uint32(pkt[12:])),
		BitrateMax:     int32(binary.LittleEndian.Uint32(pkt[16:])),
		BitrateNominal: int32(binary.LittleEndian.Uint32(pkt[20:])),
		BitrateMin:     int32(binary.LittleEndian.Uint32(pkt[24:])),
	}
	if info.Version != 0 {
		return info, fmt.Errorf("ogg: vorbis version %d", info.Version)
	}
	if pkt[29]&0x1 == 0 {
		return info, fmt.Errorf("ogg: vorbis identification header missing framing bit")
	}
	return info, nil
}

// VorbisProber reads the format of an Ogg Vorbis file from its
// identification header.
type VorbisProber struct{}

func (VorbisProber) Name() string { return "vorbis" }

func (VorbisProber) Probe(ctx context.Context, path string) (audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, err
	}
	defer f.Close()

	pkt, err := FirstPacket(f)
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: %v", audio.ErrUnsupported, err)
	}
	info, err := ParseVorbisID(pkt)
	if err != nil {
		return audio.Format{}, err
	}
	return audio.Format{SampleRate: info.SampleRate, Channels: info.Channels}, nil
}
