package convert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/oggaac/internal/observe"
)

// DefaultQueueSize is the number of requests that may wait for the worker.
const DefaultQueueSize = 16

// ErrWorkerStopped is returned by Submit once the worker has shut down.
var ErrWorkerStopped = errors.New("convert: worker stopped")

// Runner performs a single conversion.
type Runner interface {
	Convert(ctx context.Context, req Request) (Result, error)
}

// Callback receives the outcome of a submitted request.
type Callback func(Result, error)

// Report is what a worker publishes after each request.
type Report struct {
	ID       uint64
	Request  Request
	Result   Result
	Err      error
	Finished time.Time
}

type job struct {
	id   uint64
	req  Request
	once sync.Once
	done Callback
}

func (j *job) finish(res Result, err error) {
	j.once.Do(func() {
		if j.done != nil {
			j.done(res, err)
		}
	})
}

// Worker runs submitted conversions one at a time, in submission order, on
// a single goroutine. Requests cannot be cancelled once queued; the context
// given to Run stops the worker and fails whatever is still queued.
type Worker struct {
	runner  Runner
	queue   chan *job
	metrics *observe.Metrics
	nextID  atomic.Uint64
	busy    atomic.Bool

	// mu is held shared by Submit while it enqueues and exclusively by stop
	// while it marks the worker stopped, so no job is queued after the final
	// drain.
	mu      sync.RWMutex
	stopped bool
	done    chan struct{}

	// OnReport, when set before Run, is called on the worker goroutine after
	// each request finishes.
	OnReport func(Report)
}

// NewWorker creates a worker with a queue of size slots; DefaultQueueSize
// when size is not positive. m may be nil.
func NewWorker(r Runner, size int, m *observe.Metrics) *Worker {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Worker{
		runner:  r,
		queue:   make(chan *job, size),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Submit queues req. It blocks while the queue is full until ctx is done.
// cb is called exactly once, from the worker goroutine, unless Submit
// returns an error, in which case it is never called.
func (w *Worker) Submit(ctx context.Context, req Request, cb Callback) (uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return 0, ErrWorkerStopped
	}
	j := &job{id: w.nextID.Add(1), req: req, done: cb}
	select {
	case w.queue <- j:
		if w.metrics != nil {
			w.metrics.QueueDepth.Add(ctx, 1)
		}
		return j.id, nil
	case <-w.done:
		return 0, ErrWorkerStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Do submits req and waits for its result. ctx only bounds the wait to get
// into the queue; once queued the conversion always runs to completion.
func (w *Worker) Do(ctx context.Context, req Request) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	if _, err := w.Submit(ctx, req, func(res Result, err error) {
		ch <- outcome{res, err}
	}); err != nil {
		return Result{}, err
	}
	o := <-ch
	return o.res, o.err
}

// Pending returns the number of queued requests not yet started.
func (w *Worker) Pending() int { return len(w.queue) }

// Busy reports whether a conversion is running.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Run processes the queue until ctx is cancelled. Requests still queued at
// that point are failed with ErrWorkerStopped.
func (w *Worker) Run(ctx context.Context) error {
	defer w.stop(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case j := <-w.queue:
			w.process(ctx, j)
		}
	}
}

func (w *Worker) process(ctx context.Context, j *job) {
	if w.metrics != nil {
		w.metrics.QueueDepth.Add(ctx, -1)
	}
	w.busy.Store(true)
	defer w.busy.Store(false)

	res, err := w.runner.Convert(ctx, j.req)
	j.finish(res, err)
	if w.OnReport != nil {
		w.OnReport(Report{ID: j.id, Request: j.req, Result: res, Err: err, Finished: time.Now()})
	}
}

func (w *Worker) stop(ctx context.Context) {
	close(w.done)
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	for {
		select {
		case j := <-w.queue:
			if w.metrics != nil {
				w.metrics.QueueDepth.Add(context.WithoutCancel(ctx), -1)
			}
			j.finish(Result{}, newError(KindConversion, ErrWorkerStopped, "Conversion not started before shutdown"))
		default:
			return
		}
	}
}
