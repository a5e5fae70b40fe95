// Package fdk is an in-process encoder backend built on libfdk-aac.
package fdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	fdkaac "github.com/lizc2003/audio-fdkaac"

	"github.com/satindergrewal/oggaac/internal/adts"
	"github.com/satindergrewal/oggaac/internal/encoder"
	"github.com/satindergrewal/oggaac/internal/observe"
)

// Encoder implements encoder.Encoder with libfdk-aac producing AAC-LC.
type Encoder struct{}

func (Encoder) Name() string { return "fdk" }

func (Encoder) Configure(ctx context.Context, cfg encoder.Config) (encoder.Session, error) {
	enc, err := fdkaac.CreateAacEncoder(&fdkaac.AacEncoderConfig{
		TransMux:    fdkaac.TtMp4Adts,
		SampleRate:  cfg.Format.SampleRate,
		MaxChannels: cfg.Format.Channels,
		Bitrate:     cfg.BitRate,
	})
	if err != nil {
		return nil, fmt.Errorf("fdk-aac create: %w", err)
	}
	if cfg.Speed {
		observe.Logger(ctx).Debug("fdk-aac has no speed mode, encoding at default quality")
	}

	bufSize := cfg.InputBufferSize
	if bufSize <= 0 {
		bufSize = encoder.DefaultInputBufferSize
	}
	s := &session{
		enc: handle{
			encode: func(in, out []byte) (int, error) {
				n, _, err := enc.Encode(in, out)
				return int(n), err
			},
			flush: func(out []byte) (int, error) {
				n, _, err := enc.Flush(out)
				return int(n), err
			},
			outSize: func(n int) int { return int(enc.EstimateOutBufBytes(n)) },
			close:   func() { enc.Close() },
		},
		cfg:     cfg,
		bufSize: bufSize,
	}
	s.pending = append(s.pending, encoder.Packet{
		Payload:    adts.AudioSpecificConfig(cfg.Format.SampleRate, cfg.Format.Channels),
		ConfigOnly: true,
	})
	return s, nil
}

// handle is the subset of the libfdk-aac encoder a session uses.
type handle struct {
	encode  func(in, out []byte) (int, error)
	flush   func(out []byte) (int, error)
	outSize func(n int) int
	close   func()
}

// session encodes synchronously inside Feed; Drain only hands out what
// Feed produced.
type session struct {
	enc     handle
	cfg     encoder.Config
	bufSize int

	pending  []encoder.Packet
	carry    []byte
	frames   int
	ended    bool
	released bool
}

func (s *session) AcquireInput(time.Duration) (int, bool, error) {
	if s.ended {
		return 0, false, errors.New("fdk-aac: input already ended")
	}
	return s.bufSize, true, nil
}

func (s *session) Feed(pcm []byte, _ uint64, eos bool) error {
	if len(pcm) > 0 {
		out := make([]byte, s.enc.outSize(len(pcm)))
		n, err := s.enc.encode(pcm, out)
		if err != nil {
			return fmt.Errorf("fdk-aac encode: %w", err)
		}
		if err := s.collect(out[:n]); err != nil {
			return err
		}
	}
	if eos {
		s.ended = true
		out := make([]byte, s.enc.outSize(s.bufSize))
		n, err := s.enc.flush(out)
		if err != nil {
			return fmt.Errorf("fdk-aac flush: %w", err)
		}
		if err := s.collect(out[:n]); err != nil {
			return err
		}
		if len(s.carry) > 0 {
			return fmt.Errorf("fdk-aac: %d trailing bytes after flush", len(s.carry))
		}
		s.pending = append(s.pending, encoder.Packet{EndOfStream: true})
	}
	return nil
}

// collect splits the encoder's ADTS output into raw payloads.
func (s *session) collect(b []byte) error {
	s.carry = append(s.carry, b...)
	payloads, rest, err := adts.Split(s.carry)
	if err != nil {
		return fmt.Errorf("fdk-aac output: %w", err)
	}
	for _, p := range payloads {
		payload := make([]byte, len(p))
		copy(payload, p)
		s.pending = append(s.pending, encoder.Packet{
			Payload:          payload,
			PresentationTime: 1_000_000 * uint64(s.frames*encoder.SamplesPerFrame) / uint64(s.cfg.Format.SampleRate),
		})
		s.frames++
	}
	s.carry = append(s.carry[:0], rest...)
	return nil
}

func (s *session) Drain(time.Duration) (encoder.Packet, bool, error) {
	if len(s.pending) == 0 {
		return encoder.Packet{}, false, nil
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true, nil
}

func (s *session) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	s.enc.close()
	return nil
}
