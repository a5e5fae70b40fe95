package audio

import (
	"context"

	"github.com/satindergrewal/oggaac/internal/adts"
	"github.com/satindergrewal/oggaac/internal/observe"
)

// Prober reads the sample rate and channel count of an audio file without
// decoding it. It returns ErrUnsupported for files it does not understand.
type Prober interface {
	Probe(ctx context.Context, path string) (Format, error)
}

// Resolver determines the format a conversion encodes at.
type Resolver struct {
	// Probers are tried in order; the first success wins. With none, every
	// file resolves to DefaultFormat.
	Probers []Prober
}

// Resolve never fails. A file no prober understands, or one that reports a
// non-positive rate or channel count, resolves to DefaultFormat. The answer
// is then normalized to something the encoder accepts.
func (r *Resolver) Resolve(ctx context.Context, path string) Format {
	log := observe.Logger(ctx)
	for _, p := range r.Probers {
		f, err := p.Probe(ctx, path)
		if err != nil {
			log.Debug("probe failed", "path", path, "prober", proberName(p), "err", err)
			continue
		}
		if f.SampleRate <= 0 || f.Channels <= 0 {
			log.Warn("prober returned unusable format, using default",
				"path", path, "sample_rate", f.SampleRate, "channels", f.Channels)
			return DefaultFormat
		}
		return Normalize(f)
	}
	return DefaultFormat
}

// Normalize maps f onto an encodable format: a rate without an ADTS index
// becomes 44100 Hz and more than two channels become stereo.
func Normalize(f Format) Format {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return DefaultFormat
	}
	if !adts.IsSupportedRate(f.SampleRate) {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels > MaxChannels {
		f.Channels = MaxChannels
	}
	return f
}

type named interface{ Name() string }

func proberName(v any) string {
	if n, ok := v.(named); ok {
		return n.Name()
	}
	return "unknown"
}
