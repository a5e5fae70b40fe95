package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/satindergrewal/oggaac/internal/adts"
	"github.com/satindergrewal/oggaac/internal/observe"
)

// FFmpeg encodes with ffmpeg's native AAC encoder in a subprocess. PCM is
// written to its stdin and the ADTS stream it prints is split back into raw
// payloads so the pipeline can frame them itself.
type FFmpeg struct {
	// Binary is the ffmpeg executable; "ffmpeg" when empty.
	Binary string
}

func (e *FFmpeg) Name() string { return "ffmpeg" }

// Args returns the ffmpeg command line for cfg.
func (e *FFmpeg) Args(cfg Config) []string {
	coder := "twoloop"
	if cfg.Speed {
		coder = "fast"
	}
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.Format.SampleRate),
		"-ac", strconv.Itoa(cfg.Format.Channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-profile:a", "aac_low",
		"-aac_coder", coder,
		"-b:a", strconv.Itoa(cfg.BitRate),
		"-f", "adts",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (e *FFmpeg) Configure(ctx context.Context, cfg Config) (Session, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, e.Args(cfg)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	s := &ffmpegSession{
		cmd:     cmd,
		stdin:   stdin,
		cfg:     cfg,
		queue:   newPacketQueue(),
		readerC: make(chan struct{}),
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	observe.Logger(ctx).Debug("ffmpeg encoder started",
		"pid", cmd.Process.Pid, "format", cfg.Format.String(), "bitrate", cfg.BitRate, "speed", cfg.Speed)

	s.queue.push(Packet{
		Payload:    adts.AudioSpecificConfig(cfg.Format.SampleRate, cfg.Format.Channels),
		ConfigOnly: true,
	})
	go s.readOutput(stdout)
	return s, nil
}

type ffmpegSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cfg    Config
	stderr bytes.Buffer

	queue   *packetQueue
	readerC chan struct{}
	frames  uint64

	inputDone   bool
	waitOnce    sync.Once
	waitErr     error
	releaseOnce sync.Once
	releaseErr  error
}

// wait reaps the process once its output has been fully read.
func (s *ffmpegSession) wait() error {
	s.waitOnce.Do(func() {
		<-s.readerC
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// readOutput parses ffmpeg's ADTS output into packets until EOF, then reaps
// the process. End of stream is only reported for a clean exit.
func (s *ffmpegSession) readOutput(r io.Reader) {
	sc := adts.NewScanner(r)
	for sc.Scan() {
		fr := sc.Frame()
		payload := make([]byte, len(fr.Payload))
		copy(payload, fr.Payload)
		s.queue.push(Packet{
			Payload:          payload,
			PresentationTime: presentationTime(int(s.frames)*SamplesPerFrame, s.cfg.Format.SampleRate),
		})
		s.frames++
	}
	close(s.readerC)
	exitErr := s.wait()

	if err := sc.Err(); err != nil {
		if exitErr != nil {
			err = errors.Join(err, s.joinExit(exitErr))
		}
		s.queue.close(fmt.Errorf("ffmpeg output: %w", err))
		return
	}
	if exitErr != nil {
		s.queue.close(fmt.Errorf("ffmpeg exited: %w", s.joinExit(exitErr)))
		return
	}
	s.queue.push(Packet{EndOfStream: true})
	s.queue.close(nil)
}

func (s *ffmpegSession) AcquireInput(time.Duration) (int, bool, error) {
	if s.inputDone {
		return 0, false, errors.New("ffmpeg: input already ended")
	}
	select {
	case <-s.readerC:
		// ffmpeg stopped producing output before the input ended.
		return 0, false, s.exitError()
	default:
	}
	return s.cfg.inputBufferSize(), true, nil
}

func (s *ffmpegSession) Feed(pcm []byte, _ uint64, eos bool) error {
	if len(pcm) > 0 {
		if _, err := s.stdin.Write(pcm); err != nil {
			_ = s.stdin.Close()
			if werr := s.wait(); werr != nil {
				err = s.joinExit(werr)
			}
			return fmt.Errorf("ffmpeg write: %w", err)
		}
	}
	if eos {
		s.inputDone = true
		if err := s.stdin.Close(); err != nil {
			return fmt.Errorf("ffmpeg close stdin: %w", err)
		}
	}
	return nil
}

func (s *ffmpegSession) Drain(timeout time.Duration) (Packet, bool, error) {
	return s.queue.pop(timeout)
}

func (s *ffmpegSession) Release() error {
	s.releaseOnce.Do(func() {
		if !s.inputDone {
			_ = s.stdin.Close()
			_ = s.cmd.Process.Kill()
		}
		if err := s.wait(); err != nil {
			s.releaseErr = s.joinExit(err)
		}
	})
	return s.releaseErr
}

// exitError describes why the process stopped.
func (s *ffmpegSession) exitError() error {
	err := s.wait()
	if err == nil {
		return errors.New("ffmpeg exited before end of input")
	}
	return s.joinExit(err)
}

func (s *ffmpegSession) joinExit(err error) error {
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}
