package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/oggaac/internal/observe"
)

// Decoder turns an audio file into PCM. want is a hint: decoders that can
// produce any format should honour it, others return their native format.
// The returned PCM always describes its actual format.
type Decoder interface {
	Decode(ctx context.Context, path string, want Format) (PCM, error)
}

// Origin tells where a Source got its PCM from.
type Origin int

const (
	OriginDecoded Origin = iota
	OriginSynthetic
)

func (o Origin) String() string {
	if o == OriginSynthetic {
		return "synthetic"
	}
	return "decoded"
}

// Source obtains the PCM for a conversion.
type Source struct {
	// Decoders are tried in order. With none, every conversion encodes the
	// fallback tone.
	Decoders []Decoder

	// Fallback is the tone length; FallbackDuration when zero.
	Fallback time.Duration
}

// Obtain returns the decoded content of path in format f. When no decoder
// succeeds it returns a sine tone in f instead, with OriginSynthetic. The
// only error is a failure to synthesize that tone.
func (s *Source) Obtain(ctx context.Context, path string, f Format) (PCM, Origin, error) {
	log := observe.Logger(ctx)

	var errs []error
	for _, d := range s.Decoders {
		pcm, err := d.Decode(ctx, path, f)
		if err == nil && (pcm.Format.SampleRate <= 0 || pcm.Format.Channels <= 0) {
			err = fmt.Errorf("audio: decoder reported format %s", pcm.Format)
		}
		if err == nil && len(pcm.Data) == 0 {
			err = errors.New("audio: decoder produced no samples")
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out := Convert(NewPCM(pcm.Data, pcm.Format), f)
		if len(out.Data) == 0 {
			errs = append(errs, fmt.Errorf("audio: no samples left after converting %s to %s", pcm.Format, f))
			continue
		}
		return out, OriginDecoded, nil
	}

	dur := s.Fallback
	if dur <= 0 {
		dur = FallbackDuration
	}
	log.Warn("no decoder produced audio, using synthetic tone",
		"path", path, "format", f.String(), "duration", dur, "err", errors.Join(errs...))

	pcm, err := GenerateSine(f, dur)
	if err != nil {
		return PCM{}, OriginSynthetic, err
	}
	return pcm, OriginSynthetic, nil
}

type scratchKey struct{}

// WithScratchDir returns a context carrying a directory decoders may use for
// intermediate files. The caller owns and removes the directory.
func WithScratchDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, scratchKey{}, dir)
}

// ScratchDir returns the directory set by WithScratchDir.
func ScratchDir(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(scratchKey{}).(string)
	return dir, ok && dir != ""
}

// scratchFile returns a path for a named file in the scratch directory, or
// "" when ctx has none.
func scratchFile(ctx context.Context, name string) string {
	dir, ok := ScratchDir(ctx)
	if !ok {
		return ""
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	return filepath.Join(dir, name)
}
