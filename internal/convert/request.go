package convert

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	DefaultBitRate = 192000
	MinBitRate     = 8000
	MaxBitRate     = 512000
)

// Request is one conversion. A zero BitRate selects the converter's
// default.
type Request struct {
	InputPath       string `json:"inputPath"`
	OutputPath      string `json:"outputPath"`
	BitRate         int    `json:"bitrate,omitempty"`
	PrioritizeSpeed bool   `json:"prioritizeSpeed,omitempty"`
}

// Validate checks the request without touching the filesystem.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.InputPath) == "" {
		errs = append(errs, errors.New("input path is empty"))
	}
	if strings.TrimSpace(r.OutputPath) == "" {
		errs = append(errs, errors.New("output path is empty"))
	}
	if r.BitRate != 0 && (r.BitRate < MinBitRate || r.BitRate > MaxBitRate) {
		errs = append(errs, fmt.Errorf("bitrate %d outside [%d, %d]", r.BitRate, MinBitRate, MaxBitRate))
	}
	if r.InputPath != "" && r.OutputPath != "" && filepath.Clean(r.InputPath) == filepath.Clean(r.OutputPath) {
		errs = append(errs, errors.New("output path is the input path"))
	}
	return errors.Join(errs...)
}

// PriorityFromString reports whether an API priority option asks for speed.
// Anything other than "speed" means quality.
func PriorityFromString(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "speed")
}
