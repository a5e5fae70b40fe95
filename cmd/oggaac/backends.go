package main

import (
	"fmt"

	"github.com/satindergrewal/oggaac/internal/audio"
	"github.com/satindergrewal/oggaac/internal/config"
	"github.com/satindergrewal/oggaac/internal/convert"
	"github.com/satindergrewal/oggaac/internal/encoder"
	"github.com/satindergrewal/oggaac/internal/encoder/fdk"
	"github.com/satindergrewal/oggaac/internal/observe"
	"github.com/satindergrewal/oggaac/internal/ogg"
	"github.com/satindergrewal/oggaac/internal/ogg/opusdec"
	"github.com/satindergrewal/oggaac/internal/server"
)

// buildConverter wires the configured probers, decoders and encoder backend
// into a Converter. m may be nil.
func buildConverter(cfg config.Config, m *observe.Metrics) (*convert.Converter, server.Info, error) {
	probers, err := buildProbers(cfg.Decoder)
	if err != nil {
		return nil, server.Info{}, err
	}
	decoders, err := buildDecoders(cfg)
	if err != nil {
		return nil, server.Info{}, err
	}
	enc, err := buildEncoder(cfg.Encoder)
	if err != nil {
		return nil, server.Info{}, err
	}

	conv := &convert.Converter{
		Resolver: &audio.Resolver{Probers: probers},
		Source:   &audio.Source{Decoders: decoders, Fallback: cfg.Convert.Fallback},
		Pipeline: &encoder.Pipeline{
			Encoder:         enc,
			Timeout:         cfg.Encoder.Timeout,
			EndTimeout:      cfg.Encoder.EndTimeout,
			InputBufferSize: cfg.Encoder.InputBufferSize,
		},
		DefaultBitRate: cfg.Convert.DefaultBitRate,
		TempDir:        cfg.Convert.TempDir,
		Metrics:        m,
	}
	info := server.Info{
		Encoder:        cfg.Encoder.Backend,
		Decoders:       append([]string(nil), cfg.Decoder.Decoders...),
		DefaultBitRate: cfg.Convert.DefaultBitRate,
	}
	return conv, info, nil
}

func buildProbers(cfg config.DecoderConfig) ([]audio.Prober, error) {
	var out []audio.Prober
	for _, name := range cfg.Probers {
		switch name {
		case "vorbis":
			out = append(out, ogg.VorbisProber{})
		case "opus":
			out = append(out, ogg.OpusProber{})
		case "ffprobe":
			out = append(out, &audio.FFprobeProber{Binary: cfg.FFprobePath})
		default:
			return nil, fmt.Errorf("unknown prober %q", name)
		}
	}
	return out, nil
}

func buildDecoders(cfg config.Config) ([]audio.Decoder, error) {
	var out []audio.Decoder
	for _, name := range cfg.Decoder.Decoders {
		switch name {
		case "opus":
			out = append(out, opusdec.Decoder{})
		case "ffmpeg":
			out = append(out, &audio.FFmpegDecoder{Binary: cfg.Encoder.FFmpegPath})
		default:
			return nil, fmt.Errorf("unknown decoder %q", name)
		}
	}
	return out, nil
}

func buildEncoder(cfg config.EncoderConfig) (encoder.Encoder, error) {
	switch cfg.Backend {
	case "ffmpeg":
		return &encoder.FFmpeg{Binary: cfg.FFmpegPath}, nil
	case "fdk":
		return fdk.Encoder{}, nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", cfg.Backend)
	}
}
