package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/satindergrewal/oggaac/internal/audio"
	"github.com/satindergrewal/oggaac/internal/convert"
	"github.com/satindergrewal/oggaac/internal/observe"
	"github.com/satindergrewal/oggaac/internal/stream"
)

type runnerFunc func(context.Context, convert.Request) (convert.Result, error)

func (f runnerFunc) Convert(ctx context.Context, req convert.Request) (convert.Result, error) {
	return f(ctx, req)
}

// newTestServer starts a worker around fn and returns a server on it.
func newTestServer(t *testing.T, fn runnerFunc) (*Server, *convert.Worker) {
	t.Helper()
	w := convert.NewWorker(fn, 4, nil)
	s := New(w, stream.NewBroadcaster(), observe.DefaultMetrics(), Info{Version: "test", Encoder: "mock", DefaultBitRate: 192000})
	w.OnReport = s.Report

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, w
}

func okRunner(_ context.Context, req convert.Request) (convert.Result, error) {
	return convert.Result{
		OutputPath: req.OutputPath,
		Format:     audio.DefaultFormat,
		Origin:     "synthetic",
		BitRate:    req.BitRate,
		Frames:     216,
	}, nil
}

func post(t *testing.T, h http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConvertSuccess(t *testing.T) {
	var got convert.Request
	s, _ := newTestServer(t, func(ctx context.Context, req convert.Request) (convert.Result, error) {
		got = req
		return okRunner(ctx, req)
	})

	rec := post(t, s.Handler(), "/api/convert",
		`{"inputPath":"/in/a.ogg","outputPath":"/out/a.aac","options":{"bitrate":128000,"priority":"Speed"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	want := convert.Request{InputPath: "/in/a.ogg", OutputPath: "/out/a.aac", BitRate: 128000, PrioritizeSpeed: true}
	if got != want {
		t.Errorf("runner got %+v, want %+v", got, want)
	}

	var res convert.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.OutputPath != "/out/a.aac" || res.Frames != 216 {
		t.Errorf("result = %+v", res)
	}
}

func TestConvertQualityByDefault(t *testing.T) {
	var got convert.Request
	s, _ := newTestServer(t, func(ctx context.Context, req convert.Request) (convert.Result, error) {
		got = req
		return okRunner(ctx, req)
	})
	for _, body := range []string{
		`{"inputPath":"a.ogg","outputPath":"a.aac"}`,
		`{"inputPath":"a.ogg","outputPath":"a.aac","options":{"priority":"quality"}}`,
		`{"inputPath":"a.ogg","outputPath":"a.aac","options":{"priority":"fastest"}}`,
	} {
		if rec := post(t, s.Handler(), "/api/convert", body); rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		if got.PrioritizeSpeed {
			t.Errorf("%s: PrioritizeSpeed = true, want false", body)
		}
	}
}

func TestConvertErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   convert.Kind
	}{
		{"malformed body", `{"inputPath":`, nil, http.StatusBadRequest, convert.KindInvalidArguments},
		{"missing source", `{"inputPath":"x.ogg","outputPath":"x.aac"}`,
			&convert.Error{Kind: convert.KindSourceNotFound, Message: "Input file not found"},
			http.StatusNotFound, convert.KindSourceNotFound},
		{"encode failed", `{"inputPath":"x.ogg","outputPath":"x.aac"}`,
			&convert.Error{Kind: convert.KindEncodeFailed, Message: "Encoder failed", Err: errors.New("boom")},
			http.StatusUnprocessableEntity, convert.KindEncodeFailed},
		{"processing", `{"inputPath":"x.ogg","outputPath":"x.aac"}`,
			&convert.Error{Kind: convert.KindProcessing, Message: "Scratch failed"},
			http.StatusInternalServerError, convert.KindProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, func(context.Context, convert.Request) (convert.Result, error) {
				return convert.Result{}, tt.err
			})
			rec := post(t, s.Handler(), "/api/convert", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.Message == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestConvertAsyncPublishesEvents(t *testing.T) {
	s, _ := newTestServer(t, okRunner)
	l := s.events.Subscribe()
	defer s.events.Unsubscribe(l)

	rec := post(t, s.Handler(), "/api/convert?async=1", `{"inputPath":"a.ogg","outputPath":"a.aac"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var ack struct{ ID uint64 }
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.ID == 0 {
		t.Error("id = 0")
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-l.C:
			types = append(types, ev.Type)
			var payload struct{ ID uint64 }
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				t.Fatalf("event data %q: %v", ev.Data, err)
			}
			if payload.ID != ack.ID {
				t.Errorf("%s event id = %d, want %d", ev.Type, payload.ID, ack.ID)
			}
		case <-timeout:
			t.Fatalf("events so far %v", types)
		}
	}
	// The worker may finish before the handler publishes "queued".
	if !(types[0] == "queued" && types[1] == "done") && !(types[0] == "done" && types[1] == "queued") {
		t.Errorf("event types = %v", types)
	}
}

func TestReportFailedEvent(t *testing.T) {
	s := New(nil, stream.NewBroadcaster(), observe.DefaultMetrics(), Info{})
	l := s.events.Subscribe()
	defer s.events.Unsubscribe(l)

	// Reported before Run starts: the event waits in the feed.
	s.Report(convert.Report{ID: 3, Err: &convert.Error{Kind: convert.KindDecodeFailed, Message: "Could not synthesize audio"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var ev stream.Event
	select {
	case ev = <-l.C:
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	if ev.Type != "failed" {
		t.Errorf("type = %q, want failed", ev.Type)
	}
	var payload struct {
		ID   uint64
		Code string
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.ID != 3 || payload.Code != "DECODE_FAILED" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestStatusAndVersion(t *testing.T) {
	s, _ := newTestServer(t, okRunner)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st struct {
		Busy    bool
		Pending int
		Info    Info
	}
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Info.Encoder != "mock" || st.Info.DefaultBitRate != 192000 {
		t.Errorf("info = %+v", st.Info)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	var v map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v["platformVersion"] == "" || v["version"] != "test" {
		t.Errorf("version = %v", v)
	}
}

func TestRouting(t *testing.T) {
	s, _ := newTestServer(t, okRunner)
	s.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/convert", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestPublishDropsWhenFeedFull(t *testing.T) {
	s := New(nil, stream.NewBroadcaster(), observe.DefaultMetrics(), Info{})
	for i := 0; i < feedBuffer+5; i++ {
		s.Report(convert.Report{ID: uint64(i + 1)})
	}
	if got := len(s.feed); got != feedBuffer {
		t.Errorf("feed holds %d events, want %d", got, feedBuffer)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind convert.Kind
		want int
	}{
		{convert.KindInvalidArguments, 400},
		{convert.KindSourceNotFound, 404},
		{convert.KindDecodeFailed, 422},
		{convert.KindEncodeFailed, 422},
		{convert.KindProcessing, 500},
		{convert.KindConversion, 500},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.kind); got != tt.want {
			t.Errorf("StatusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
