// Package server exposes conversions over HTTP: a JSON convert call, the
// platform version query, worker status, a live event feed, health and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satindergrewal/oggaac/internal/convert"
	"github.com/satindergrewal/oggaac/internal/observe"
	"github.com/satindergrewal/oggaac/internal/stream"
)

const (
	// maxBodyBytes bounds a convert request body.
	maxBodyBytes = 64 << 10
	// feedBuffer is how many events may wait for Run before new ones are
	// dropped.
	feedBuffer = 64
)

// Queue is the part of convert.Worker the server drives.
type Queue interface {
	Submit(ctx context.Context, req convert.Request, cb convert.Callback) (uint64, error)
	Do(ctx context.Context, req convert.Request) (convert.Result, error)
	Pending() int
	Busy() bool
}

// Info is static build and backend information reported by /api/status.
type Info struct {
	Version        string   `json:"version"`
	Encoder        string   `json:"encoder"`
	Decoders       []string `json:"decoders"`
	DefaultBitRate int      `json:"defaultBitrate"`
}

// Server routes HTTP requests to a conversion queue.
type Server struct {
	queue   Queue
	events  *stream.Broadcaster
	feed    chan stream.Event
	metrics *observe.Metrics
	info    Info
	started time.Time
	mux     *http.ServeMux

	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
}

// New creates a server. events and m must not be nil.
func New(q Queue, events *stream.Broadcaster, m *observe.Metrics, info Info) *Server {
	s := &Server{
		queue:   q,
		events:  events,
		feed:    make(chan stream.Event, feedBuffer),
		metrics: m,
		info:    info,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/convert", s.handleConvert)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.Handle("GET /api/events", stream.NewSSEHandler(events, 0))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	s.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		h := s.MetricsHandler
		if h == nil {
			h = promhttp.Handler()
		}
		h.ServeHTTP(w, r)
	})
	return s
}

// Run delivers published events to event listeners until ctx is done. Events
// published while Run is not running wait in a small buffer.
func (s *Server) Run(ctx context.Context) error {
	s.events.Run(ctx, s.feed)
	return nil
}

// Handler returns the routed handler wrapped with tracing and request
// metrics.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// convertRequest is the body of POST /api/convert.
type convertRequest struct {
	InputPath  string `json:"inputPath"`
	OutputPath string `json:"outputPath"`
	Options    struct {
		BitRate  int    `json:"bitrate"`
		Priority string `json:"priority"`
	} `json:"options"`
}

func (c convertRequest) request() convert.Request {
	return convert.Request{
		InputPath:       c.InputPath,
		OutputPath:      c.OutputPath,
		BitRate:         c.Options.BitRate,
		PrioritizeSpeed: convert.PriorityFromString(c.Options.Priority),
	}
}

type errorBody struct {
	Error struct {
		Code    convert.Kind `json:"code"`
		Message string       `json:"message"`
		Details string       `json:"details,omitempty"`
	} `json:"error"`
}

// handleConvert waits for the conversion unless ?async=1 is given, in
// which case it answers 202 with the queued id and the outcome arrives on
// the event feed.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var body convertRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, &convert.Error{Kind: convert.KindInvalidArguments, Message: "Malformed request body", Err: err})
		return
	}
	req := body.request()

	if r.URL.Query().Get("async") == "1" {
		id, err := s.queue.Submit(r.Context(), req, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		s.publish("queued", map[string]any{"id": id, "request": req})
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
		return
	}

	res, err := s.queue.Do(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleVersion answers with the host platform, the way mobile hosts
// report their OS release.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"platformVersion": runtime.GOOS + " " + runtime.Version(),
		"version":         s.info.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"busy":      s.queue.Busy(),
		"pending":   s.queue.Pending(),
		"listeners": s.events.ListenerCount(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"info":      s.info,
	})
}

// Report publishes a finished conversion on the event feed. It is meant to
// be installed as convert.Worker.OnReport.
func (s *Server) Report(rep convert.Report) {
	if rep.Err != nil {
		s.publish("failed", map[string]any{
			"id":      rep.ID,
			"request": rep.Request,
			"code":    convert.KindOf(rep.Err),
			"message": rep.Err.Error(),
		})
		return
	}
	s.publish("done", map[string]any{"id": rep.ID, "request": rep.Request, "result": rep.Result})
}

func (s *Server) publish(typ string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("event encode failed", "type", typ, "err", err)
		return
	}
	select {
	case s.feed <- stream.Event{Type: typ, Data: data}:
	default:
		slog.Warn("event feed full, dropping event", "type", typ)
	}
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(k convert.Kind) int {
	switch k {
	case convert.KindInvalidArguments:
		return http.StatusBadRequest
	case convert.KindSourceNotFound:
		return http.StatusNotFound
	case convert.KindDecodeFailed, convert.KindEncodeFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	status := http.StatusInternalServerError

	var ce *convert.Error
	switch {
	case errors.As(err, &ce):
		body.Error.Code = ce.Kind
		body.Error.Message = ce.Message
		if ce.Err != nil {
			body.Error.Details = ce.Err.Error()
		}
		status = StatusFor(ce.Kind)
		if errors.Is(err, convert.ErrWorkerStopped) {
			status = http.StatusServiceUnavailable
		}
	case errors.Is(err, convert.ErrWorkerStopped):
		body.Error.Code = convert.KindConversion
		body.Error.Message = "Converter is shutting down"
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Error.Code = convert.KindConversion
		body.Error.Message = "Request abandoned before it was queued"
		status = http.StatusServiceUnavailable
	default:
		body.Error.Code = convert.KindOf(err)
		body.Error.Message = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "err", err)
	}
}
