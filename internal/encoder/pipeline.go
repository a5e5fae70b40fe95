package encoder

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/satindergrewal/oggaac/internal/adts"
	"github.com/satindergrewal/oggaac/internal/audio"
	"github.com/satindergrewal/oggaac/internal/observe"
)

// DefaultEndTimeout bounds the wait for the end-of-stream packet after the
// final input has been submitted.
const DefaultEndTimeout = 30 * time.Second

// Pipeline feeds PCM through an Encoder session and writes ADTS frames.
type Pipeline struct {
	Encoder Encoder

	// Timeout bounds each AcquireInput and Drain call; DefaultTimeout when
	// zero.
	Timeout time.Duration

	// EndTimeout bounds the wait for end of stream once all input is in;
	// DefaultEndTimeout when zero.
	EndTimeout time.Duration

	// InputBufferSize is passed to the backend in Config.
	InputBufferSize int
}

// Stats summarizes one encode.
type Stats struct {
	Frames        int
	Bytes         int64
	InputSamples  int
	ConfigPackets int
	// Duration is the presentation time of the submitted audio.
	Duration time.Duration
}

// Encode encodes pcm at bitRate and writes one ADTS frame per encoded
// packet to w. Trailing bytes shorter than one multi-channel sample are
// dropped. Errors from the session, and payloads too large for an ADTS
// frame, are wrapped in ErrEncode; errors writing to w are not.
func (p *Pipeline) Encode(ctx context.Context, pcm audio.PCM, bitRate int, speed bool, w io.Writer) (st Stats, err error) {
	f := pcm.Format
	if !f.Valid() {
		return st, fmt.Errorf("%w: unsupported format %s", ErrEncode, f)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := observe.Logger(ctx).With("encoder", p.Encoder.Name())

	sess, err := p.Encoder.Configure(ctx, Config{
		Format:          f,
		BitRate:         bitRate,
		Speed:           speed,
		InputBufferSize: p.InputBufferSize,
	})
	if err != nil {
		return st, fmt.Errorf("%w: configure %s: %w", ErrEncode, p.Encoder.Name(), err)
	}
	defer func() {
		if rerr := sess.Release(); rerr != nil {
			log.Warn("release encoder session", "err", rerr)
			if err == nil {
				err = fmt.Errorf("%w: release: %w", ErrEncode, rerr)
			}
		}
	}()

	fb := f.FrameBytes()
	data := pcm.Data[:len(pcm.Data)/fb*fb]
	var pts uint64
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("%w: %w", ErrEncode, err)
		}

		capacity, ok, err := sess.AcquireInput(timeout)
		if err != nil {
			return st, fmt.Errorf("%w: acquire input: %w", ErrEncode, err)
		}
		if ok {
			if len(data) == 0 {
				if err := sess.Feed(nil, pts, true); err != nil {
					return st, fmt.Errorf("%w: submit end of stream: %w", ErrEncode, err)
				}
				break
			}
			if capacity < fb {
				return st, fmt.Errorf("%w: input buffer of %d bytes cannot hold one %d-byte sample", ErrEncode, capacity, fb)
			}
			n := min(capacity, len(data)) / fb * fb
			if err := sess.Feed(data[:n], pts, false); err != nil {
				return st, fmt.Errorf("%w: submit input: %w", ErrEncode, err)
			}
			samples := n / fb
			pts += presentationTime(samples, f.SampleRate)
			st.InputSamples += samples
			data = data[n:]
		} else {
			retries++
		}

		eos, err := p.drain(sess, timeout, f, w, &st)
		if err != nil {
			return st, err
		}
		if eos {
			// The backend ended the stream before receiving end of input.
			log.Warn("encoder signalled end of stream early", "remaining_bytes", len(data))
			st.Duration = time.Duration(pts) * time.Microsecond
			return st, nil
		}
	}

	endTimeout := p.EndTimeout
	if endTimeout <= 0 {
		endTimeout = DefaultEndTimeout
	}
	deadline := time.Now().Add(endTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		eos, err := p.drain(sess, timeout, f, w, &st)
		if err != nil {
			return st, err
		}
		if eos {
			break
		}
		if time.Now().After(deadline) {
			return st, fmt.Errorf("%w: no end of stream after %v", ErrEncode, endTimeout)
		}
	}

	st.Duration = time.Duration(pts) * time.Microsecond
	log.Debug("encode finished",
		"frames", st.Frames, "bytes", st.Bytes, "samples", st.InputSamples, "acquire_retries", retries)
	return st, nil
}

// drain writes every packet the session has ready. It reports whether the
// end-of-stream packet was among them.
func (p *Pipeline) drain(sess Session, timeout time.Duration, f audio.Format, w io.Writer, st *Stats) (bool, error) {
	for {
		pkt, ok, err := sess.Drain(timeout)
		if err != nil {
			return false, fmt.Errorf("%w: drain: %w", ErrEncode, err)
		}
		if !ok {
			return false, nil
		}
		if pkt.ConfigOnly {
			st.ConfigPackets++
			continue
		}
		if len(pkt.Payload) > 0 {
			if err := writeFrame(w, pkt.Payload, f); err != nil {
				return false, err
			}
			st.Frames++
			st.Bytes += int64(adts.HeaderSize + len(pkt.Payload))
		}
		if pkt.EndOfStream {
			return true, nil
		}
	}
}

// writeFrame writes header and payload for one packet. A fresh header is
// built for every frame.
func writeFrame(w io.Writer, payload []byte, f audio.Format) error {
	h, err := adts.NewHeader(len(payload), f.SampleRate, f.Channels)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if _, err := w.Write(h.Bytes()); err != nil {
		return fmt.Errorf("encoder: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("encoder: write payload: %w", err)
	}
	return nil
}
