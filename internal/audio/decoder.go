package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder decodes any file ffmpeg understands by running it as a
// subprocess. It resamples to the requested format itself.
type FFmpegDecoder struct {
	// Binary is the ffmpeg executable; "ffmpeg" when empty.
	Binary string
}

func (d *FFmpegDecoder) Name() string { return "ffmpeg" }

func (d *FFmpegDecoder) binary() string {
	if d.Binary == "" {
		return "ffmpeg"
	}
	return d.Binary
}

// Decode runs ffmpeg to convert path to s16le PCM in format want. When ctx
// carries a scratch directory the PCM is staged there, otherwise it is read
// from ffmpeg's stdout.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, want Format) (PCM, error) {
	if want.SampleRate <= 0 || want.Channels <= 0 {
		want = DefaultFormat
	}

	out := "pipe:1"
	staged := scratchFile(ctx, "decoded.pcm")
	if staged != "" {
		out = staged
	}

	cmd := exec.CommandContext(ctx, d.binary(),
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(want.SampleRate),
		"-ac", strconv.Itoa(want.Channels),
		"-loglevel", "error",
		"-y",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var data []byte
	var err error
	if staged != "" {
		if err = cmd.Run(); err == nil {
			data, err = os.ReadFile(staged)
			_ = os.Remove(staged)
		}
	} else {
		data, err = cmd.Output()
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return PCM{}, fmt.Errorf("ffmpeg decode %s: %w: %v", path, ErrUnsupported, err)
		}
		return PCM{}, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	return NewPCM(data, want), nil
}

// FFprobeProber reads the first audio stream's parameters with ffprobe.
type FFprobeProber struct {
	// Binary is the ffprobe executable; "ffprobe" when empty.
	Binary string
}

func (p *FFprobeProber) Name() string { return "ffprobe" }

type probeOutput struct {
	Streams []struct {
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func (p *FFprobeProber) Probe(ctx context.Context, path string) (Format, error) {
	bin := p.Binary
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate,channels",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Format{}, fmt.Errorf("ffprobe %s: %w: %v", path, ErrUnsupported, err)
		}
		return Format{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (Format, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return Format{}, fmt.Errorf("ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 {
		return Format{}, fmt.Errorf("ffprobe: %w: no audio stream", ErrUnsupported)
	}
	rate, err := strconv.Atoi(po.Streams[0].SampleRate)
	if err != nil {
		return Format{}, fmt.Errorf("ffprobe sample rate %q: %w", po.Streams[0].SampleRate, err)
	}
	return Format{SampleRate: rate, Channels: po.Streams[0].Channels}, nil
}
