package observe

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a slog logger writing to w. format is "text" or "json";
// level is one of debug, info, warn, error.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("observe: log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("observe: unknown log format %q", format)
	}
}

// SetupLogging installs a logger built by NewLogger as the slog default.
func SetupLogging(w io.Writer, format, level string) error {
	l, err := NewLogger(w, format, level)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}
