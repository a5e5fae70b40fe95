// Package convert runs OGG to ADTS conversions: it validates a request,
// resolves the source format, obtains PCM, encodes it and moves the result
// into place, classifying every failure into a Kind.
package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/oggaac/internal/audio"
	"github.com/satindergrewal/oggaac/internal/encoder"
	"github.com/satindergrewal/oggaac/internal/observe"
)

// Result describes a finished conversion.
type Result struct {
	OutputPath string        `json:"outputPath"`
	Format     audio.Format  `json:"format"`
	Origin     string        `json:"origin"`
	Encoder    string        `json:"encoder"`
	BitRate    int           `json:"bitrate"`
	Frames     int           `json:"frames"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Converter performs conversions one at a time. Its fields are read only
// after construction.
type Converter struct {
	Resolver *audio.Resolver
	Source   *audio.Source
	Pipeline *encoder.Pipeline

	// DefaultBitRate is used when a request has none; DefaultBitRate when
	// zero.
	DefaultBitRate int

	// TempDir is where scratch directories are created. Empty means next to
	// the output file.
	TempDir string

	Metrics *observe.Metrics
}

// Convert runs req to completion. Every error it returns is an *Error. The
// scratch directory holding intermediate PCM and the partial output is
// removed on every path, including a panic inside a stage.
func (c *Converter) Convert(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "convert")
	log := observe.Logger(ctx).With("input", req.InputPath, "output", req.OutputPath)

	defer func() {
		if r := recover(); r != nil {
			log.Error("conversion panicked", "panic", r)
			err = newError(KindConversion, fmt.Errorf("panic: %v", r), "Unexpected failure during conversion")
			res = Result{}
		}
		res.Elapsed = time.Since(start)
		if c.Metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			c.Metrics.RecordConversion(ctx, status, string(KindOf(err)), res.Elapsed)
		}
		observe.EndSpan(span, err)
	}()

	if verr := req.Validate(); verr != nil {
		return res, newError(KindInvalidArguments, verr, "Invalid conversion request")
	}
	bitRate := req.BitRate
	if bitRate == 0 {
		bitRate = c.DefaultBitRate
	}
	if bitRate == 0 {
		bitRate = DefaultBitRate
	}

	fi, serr := os.Stat(req.InputPath)
	switch {
	case errors.Is(serr, fs.ErrNotExist):
		return res, newError(KindSourceNotFound, serr, "Input file does not exist: %s", req.InputPath)
	case serr != nil:
		return res, newError(KindProcessing, serr, "Cannot access input file: %s", req.InputPath)
	case fi.IsDir():
		return res, newError(KindInvalidArguments, nil, "Input path is a directory: %s", req.InputPath)
	}

	outDir := filepath.Dir(req.OutputPath)
	scratchBase := c.TempDir
	if scratchBase == "" {
		scratchBase = existingAncestor(outDir)
	}
	scratch, terr := os.MkdirTemp(scratchBase, ".oggaac-*")
	if terr != nil {
		return res, newError(KindProcessing, terr, "Cannot create scratch directory")
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			log.Warn("remove scratch directory", "dir", scratch, "err", rerr)
		}
	}()
	ctx = audio.WithScratchDir(ctx, scratch)

	var format audio.Format
	_ = c.run(ctx, "resolve", func(ctx context.Context) error {
		format = c.resolver().Resolve(ctx, req.InputPath)
		return nil
	})
	log = log.With("format", format.String())

	var pcm audio.PCM
	var origin audio.Origin
	if derr := c.run(ctx, "decode", func(ctx context.Context) error {
		var err error
		pcm, origin, err = c.source().Obtain(ctx, req.InputPath, format)
		return err
	}); derr != nil {
		return res, newError(KindDecodeFailed, derr, "Failed to obtain PCM audio")
	}
	if origin == audio.OriginSynthetic && c.Metrics != nil {
		c.Metrics.RecordFallback(ctx)
	}

	partial := filepath.Join(scratch, "output.aac.partial")
	var st encoder.Stats
	if eerr := c.run(ctx, "encode", func(ctx context.Context) error {
		var err error
		st, err = c.encodeTo(ctx, partial, pcm, bitRate, req.PrioritizeSpeed)
		return err
	}); eerr != nil {
		if errors.Is(eerr, encoder.ErrEncode) {
			return res, newError(KindEncodeFailed, eerr, "Failed to encode AAC")
		}
		var pe *fs.PathError
		if errors.As(eerr, &pe) {
			return res, newError(KindProcessing, eerr, "Cannot write partial output")
		}
		return res, newError(KindConversion, eerr, "Failed to write AAC output")
	}

	var mkdirFailed bool
	if cerr := c.run(ctx, "commit", func(context.Context) error {
		top, err := mkdirOutput(outDir)
		if err == nil {
			err = moveFile(partial, req.OutputPath)
		} else {
			mkdirFailed = true
		}
		if err != nil {
			removeCreated(outDir, top)
		}
		return err
	}); cerr != nil {
		if mkdirFailed {
			return res, newError(KindConversion, cerr, "Cannot create output directory: %s", outDir)
		}
		return res, newError(KindConversion, cerr, "Cannot move output into place: %s", req.OutputPath)
	}

	name := c.Pipeline.Encoder.Name()
	if c.Metrics != nil {
		c.Metrics.RecordEncoded(ctx, name, int64(st.Frames), st.Bytes)
	}
	res = Result{
		OutputPath: req.OutputPath,
		Format:     format,
		Origin:     origin.String(),
		Encoder:    name,
		BitRate:    bitRate,
		Frames:     st.Frames,
		Bytes:      st.Bytes,
		Duration:   st.Duration,
	}
	log.Info("conversion finished",
		"origin", res.Origin, "frames", res.Frames, "bytes", res.Bytes, "elapsed", time.Since(start))
	return res, nil
}

func (c *Converter) resolver() *audio.Resolver {
	if c.Resolver == nil {
		return &audio.Resolver{}
	}
	return c.Resolver
}

func (c *Converter) source() *audio.Source {
	if c.Source == nil {
		return &audio.Source{}
	}
	return c.Source
}

// run executes one named stage inside its own span and records its duration.
func (c *Converter) run(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "convert."+name)
	err := fn(ctx)
	observe.EndSpan(span, err)
	if c.Metrics != nil {
		c.Metrics.RecordStage(ctx, name, time.Since(start))
	}
	return err
}

// encodeTo encodes pcm into a new file at path.
func (c *Converter) encodeTo(ctx context.Context, path string, pcm audio.PCM, bitRate int, speed bool) (encoder.Stats, error) {
	f, err := os.Create(path)
	if err != nil {
		return encoder.Stats{}, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	st, err := c.Pipeline.Encode(ctx, pcm, bitRate, speed, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return st, err
}

// existingAncestor returns dir or its nearest ancestor that exists.
func existingAncestor(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// mkdirOutput creates dir and any missing parents. It returns the topmost
// directory it had to create, or "" when dir already existed.
func mkdirOutput(dir string) (string, error) {
	var top string
	for d := dir; ; {
		if _, err := os.Stat(d); err == nil {
			break
		}
		top = d
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return top, os.MkdirAll(dir, 0o755)
}

// removeCreated removes the empty directories from dir up to and including
// top. A directory something else has written into is left alone.
func removeCreated(dir, top string) {
	if top == "" {
		return
	}
	for d := dir; ; d = filepath.Dir(d) {
		if err := os.Remove(d); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return
		}
		if d == top || filepath.Dir(d) == d {
			return
		}
	}
}

// moveFile renames src to dst, replacing dst. Across filesystems it falls
// back to copying.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".oggaac-commit-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Remove(src)
}
