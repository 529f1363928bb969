package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/output"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithDrainTimeout bounds how long Close waits for buffered records.
// Default: 5s.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write return immediately (dropping the record) when
// the buffer is full. Dropped records are reported by Close.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// Async decouples record production from delivery via a buffered channel.
// A background goroutine drains the channel into the wrapped output. Errors
// from the inner output go to errFunc as they happen; Close reports every
// record that was dropped, failed or abandoned.
type Async struct {
	inner        output.Output
	ch           chan model.AnnotatedRecord
	done         chan struct{}
	stop         chan struct{} // closed when the drain deadline passes
	errFunc      func(error)
	bufSize      int
	drainTimeout time.Duration
	dropOnFull   bool
	dropped      atomic.Int64
	failed       atomic.Int64
	abandoned    atomic.Int64
	closeOnce    sync.Once
	closeErr     error
}

// New wraps inner. The drain goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc:      func(err error) { slog.Warn("async output write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.AnnotatedRecord, a.bufSize)
	a.done = make(chan struct{})
	a.stop = make(chan struct{})
	go a.drain()
	return a
}

// Write queues rec. It blocks while the buffer is full unless the wrapper
// drops on full, and returns ctx.Err() if ctx ends while blocked.
func (a *Async) Write(ctx context.Context, rec model.AnnotatedRecord) error {
	if a.dropOnFull {
		select {
		case a.ch <- rec:
		default:
			a.dropped.Add(1)
			slog.Warn("async output buffer full, dropping record",
				"run_id", rec.RunID, "stage", rec.Stage)
		}
		return nil
	}
	select {
	case a.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and waits for the drain goroutine. When the
// drain timeout passes, records still queued are abandoned; the inner output
// is closed only after the in-flight write returns. The error counts every
// record that did not reach the inner output.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		close(a.ch)
		t := time.NewTimer(a.drainTimeout)
		defer t.Stop()
		select {
		case <-a.done:
		case <-t.C:
			close(a.stop)
			<-a.done
			slog.Warn("async output drain timed out", "abandoned", a.abandoned.Load())
		}

		var errs []error
		if n := a.dropped.Load(); n > 0 {
			errs = append(errs, fmt.Errorf("async output: %d records dropped on full buffer", n))
		}
		if n := a.failed.Load(); n > 0 {
			errs = append(errs, fmt.Errorf("async output: %d writes failed", n))
		}
		if n := a.abandoned.Load(); n > 0 {
			errs = append(errs, fmt.Errorf("async output: drain timed out, %d records abandoned", n))
		}
		if err := a.inner.Close(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *Async) drain() {
	defer close(a.done)
	for rec := range a.ch {
		select {
		case <-a.stop:
			a.abandoned.Add(1)
			continue
		default:
		}
		if err := a.inner.Write(context.Background(), rec); err != nil {
			a.failed.Add(1)
			a.errFunc(err)
		}
	}
}
