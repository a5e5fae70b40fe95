package ogg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	xogg "github.com/SaurusXI/ogg"

	"github.com/satindergrewal/oggaac/internal/audio"
)

func vorbisID(rate, channels int) []byte {
	pkt := make([]byte, 30)
	copy(pkt, vorbisMagic)
	pkt[11] = byte(channels)
	binary.LittleEndian.PutUint32(pkt[12:], uint32(rate))
	binary.LittleEndian.PutUint32(pkt[20:], 128000)
	pkt[28] = 0xB8
	pkt[29] = 1
	return pkt
}

func opusHead(channels, preSkip, inputRate int) []byte {
	pkt := make([]byte, 19)
	copy(pkt, opusMagic)
	pkt[8] = 1
	pkt[9] = byte(channels)
	binary.LittleEndian.PutUint16(pkt[10:], uint16(preSkip))
	binary.LittleEndian.PutUint32(pkt[12:], uint32(inputRate))
	return pkt
}

// writeStream writes an Ogg stream with one BOS page holding head, a page of
// data packets and an empty EOS page.
func writeStream(t *testing.T, head []byte, data ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := xogg.NewEncoder(0x5eed, &buf)
	if err := enc.EncodeBOS(0, [][]byte{head}); err != nil {
		t.Fatalf("EncodeBOS: %v", err)
	}
	if len(data) > 0 {
		if err := enc.Encode(960, data); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	if err := enc.EncodeEOS(1920, nil); err != nil {
		t.Fatalf("EncodeEOS: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseVorbisID(t *testing.T) {
	info, err := ParseVorbisID(vorbisID(44100, 2))
	if err != nil {
		t.Fatalf("ParseVorbisID: %v", err)
	}
	if info.SampleRate != 44100 || info.Channels != 2 {
		t.Errorf("format = %d/%d, want 44100/2", info.SampleRate, info.Channels)
	}
	if info.BitrateNominal != 128000 {
		t.Errorf("nominal bitrate = %d, want 128000", info.BitrateNominal)
	}

	if _, err := ParseVorbisID(opusHead(2, 312, 48000)); !errors.Is(err, audio.ErrUnsupported) {
		t.Errorf("opus packet: err = %v, want ErrUnsupported", err)
	}
	noFraming := vorbisID(44100, 2)
	noFraming[29] = 0
	if _, err := ParseVorbisID(noFraming); err == nil {
		t.Error("expected error for missing framing bit")
	}
}

func TestParseOpusHead(t *testing.T) {
	h, err := ParseOpusHead(opusHead(1, 312, 16000))
	if err != nil {
		t.Fatalf("ParseOpusHead: %v", err)
	}
	if h.Channels != 1 || h.PreSkip != 312 || h.InputSampleRate != 16000 {
		t.Errorf("head = %+v", h)
	}
	if _, err := ParseOpusHead([]byte("OpusHea")); !errors.Is(err, audio.ErrUnsupported) {
		t.Errorf("short packet: err = %v, want ErrUnsupported", err)
	}
}

func TestPacketReader(t *testing.T) {
	stream := writeStream(t, vorbisID(22050, 1), []byte("one"), []byte("two"), []byte("three"))
	r := NewPacketReader(bytes.NewReader(stream))

	var got []string
	for {
		pkt, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, string(pkt))
	}
	want := []string{string(vorbisID(22050, 1)), "one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("packets = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("packet %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestVorbisProber(t *testing.T) {
	path := writeFile(t, "a.ogg", writeStream(t, vorbisID(32000, 2)))
	f, err := VorbisProber{}.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if f != (audio.Format{SampleRate: 32000, Channels: 2}) {
		t.Errorf("format = %v, want 32000Hz stereo", f)
	}

	opusPath := writeFile(t, "b.opus", writeStream(t, opusHead(2, 0, 48000)))
	if _, err := (VorbisProber{}).Probe(context.Background(), opusPath); !errors.Is(err, audio.ErrUnsupported) {
		t.Errorf("opus file: err = %v, want ErrUnsupported", err)
	}

	garbage := writeFile(t, "c.ogg", []byte("not an ogg file at all"))
	if _, err := (VorbisProber{}).Probe(context.Background(), garbage); err == nil {
		t.Error("expected error for non-ogg input")
	}
}

func TestOpusProber(t *testing.T) {
	path := writeFile(t, "a.opus", writeStream(t, opusHead(1, 312, 16000)))
	f, err := OpusProber{}.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if f != (audio.Format{SampleRate: 48000, Channels: 1}) {
		t.Errorf("format = %v, want 48000Hz mono", f)
	}

	vorbis := writeFile(t, "b.ogg", writeStream(t, vorbisID(44100, 2)))
	if _, err := (OpusProber{}).Probe(context.Background(), vorbis); err == nil {
		t.Error("expected error probing a vorbis file as opus")
	}
}

func TestProbersWithResolver(t *testing.T) {
	r := audio.Resolver{Probers: []audio.Prober{VorbisProber{}, OpusProber{}}}
	ctx := context.Background()

	vorbis := writeFile(t, "a.ogg", writeStream(t, vorbisID(44100, 1)))
	if got := r.Resolve(ctx, vorbis); got != (audio.Format{SampleRate: 44100, Channels: 1}) {
		t.Errorf("vorbis resolves to %v", got)
	}
	opus := writeFile(t, "b.opus", writeStream(t, opusHead(2, 312, 48000)))
	if got := r.Resolve(ctx, opus); got != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("opus resolves to %v", got)
	}
	odd := writeFile(t, "c.ogg", writeStream(t, vorbisID(50000, 6)))
	if got := r.Resolve(ctx, odd); got != audio.DefaultFormat {
		t.Errorf("50 kHz 6ch resolves to %v, want %v", got, audio.DefaultFormat)
	}
	if got := r.Resolve(ctx, filepath.Join(t.TempDir(), "missing.ogg")); got != audio.DefaultFormat {
		t.Errorf("missing file resolves to %v", got)
	}
}
