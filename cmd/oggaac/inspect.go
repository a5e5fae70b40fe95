package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	aac "github.com/llehouerou/go-aac"

	"github.com/satindergrewal/oggaac/internal/adts"
	"github.com/satindergrewal/oggaac/internal/audio"
	"github.com/satindergrewal/oggaac/internal/encoder"
)

// report summarizes an ADTS file.
type report struct {
	Frames     int           `json:"frames"`
	Bytes      int64         `json:"bytes"`
	Format     audio.Format  `json:"format"`
	ObjectType int           `json:"objectType"`
	Duration   time.Duration `json:"duration"`
	// Mixed is set when frames disagree on rate, channels or profile.
	Mixed bool `json:"mixed,omitempty"`
	// Verified is set when an independent AAC decoder accepted the first
	// frame with the same rate and channel count.
	Verified bool `json:"verified"`
}

func runInspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: oggaac inspect <file.aac>")
		return 2
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "oggaac: %v\n", err)
		return 1
	}
	defer f.Close()

	rep, err := inspect(f)
	if err != nil {
		fmt.Fprintf(stderr, "oggaac: inspect %s: %v\n", fs.Arg(0), err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return 1
	}
	return 0
}

// inspect walks every frame in r. A stream that loses sync or ends inside
// a frame is an error.
func inspect(r io.Reader) (report, error) {
	var rep report
	var first adts.Info
	var firstFrame []byte
	var blocks int

	sc := adts.NewScanner(r)
	for sc.Scan() {
		fr := sc.Frame()
		if rep.Frames == 0 {
			first = fr.Info
			firstFrame = append(append([]byte(nil), fr.Header...), fr.Payload...)
		} else if fr.Info.SampleRate != first.SampleRate || fr.Info.Channels != first.Channels || fr.Info.ObjectType != first.ObjectType {
			rep.Mixed = true
		}
		rep.Frames++
		blocks += fr.Info.RawBlocks + 1
		rep.Bytes += int64(fr.Info.FrameLength)
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("frame %d at offset %d: %w", rep.Frames, sc.Offset(), err)
	}
	if rep.Frames == 0 {
		return rep, errors.New("no ADTS frames")
	}

	rep.Format = audio.Format{SampleRate: first.SampleRate, Channels: first.Channels}
	rep.ObjectType = first.ObjectType
	rep.Duration = rep.Format.Duration(blocks * encoder.SamplesPerFrame * rep.Format.FrameBytes())

	rate, ch, err := aac.NewDecoder().SimpleInit(bytes.Clone(firstFrame))
	rep.Verified = err == nil && int(rate) == first.SampleRate && int(ch) == first.Channels
	return rep, nil
}
