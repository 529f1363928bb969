package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/output"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
	defaultRetryDelay    = time.Second
	maxRetries           = 3
)

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithBatchSize sets the number of alerts accumulated before a flush. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets the maximum time between flushes. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithRetryDelay sets the first retry delay; later retries double it. Default: 1s.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Output) { o.retryDelay = d }
}

// WithBatchID tags every payload with the detection batch.
func WithBatchID(id string) Option {
	return func(o *Output) { o.batchID = id }
}

// WithOnError sets a callback invoked when a timer-triggered flush fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Payload is one POST body.
type Payload struct {
	BatchID string         `json:"batch_id,omitempty"`
	Alerts  []output.Alert `json:"alerts"`
}

// Output POSTs batched alerts to an HTTP endpoint. Alerts are flushed when
// batchSize is reached or flushInterval elapses. Retries on 5xx with
// exponential backoff.
type Output struct {
	client        *http.Client
	url           string
	headers       map[string]string
	batchID       string
	batchSize     int
	flushInterval time.Duration
	retryDelay    time.Duration
	errFunc       func(error)
	mu            sync.Mutex
	pending       []output.Alert
	timer         *time.Timer
}

// New creates a webhook output targeting url.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:        &http.Client{Timeout: defaultTimeout},
		url:           url,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		retryDelay:    defaultRetryDelay,
		errFunc:       func(err error) { slog.Warn("webhook flush error", "error", err) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Write appends rec to the batch. A full batch is flushed immediately; the
// first alert of a batch arms the flush timer.
func (o *Output) Write(ctx context.Context, rec model.AnnotatedRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, output.NewAlert(rec))

	if len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}

	if len(o.pending) == 1 {
		o.timer = time.AfterFunc(o.flushInterval, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if err := o.flushLocked(context.Background()); err != nil {
				o.errFunc(err)
			}
		})
	}
	return nil
}

// Close flushes remaining alerts and stops the timer.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	return o.flushLocked(context.Background())
}

// flushLocked sends the pending batch. Caller must hold o.mu.
func (o *Output) flushLocked(ctx context.Context) error {
	if len(o.pending) == 0 {
		return nil
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}

	batch := o.pending
	o.pending = nil

	body, err := json.Marshal(Payload{BatchID: o.batchID, Alerts: batch})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return o.postWithRetry(ctx, body)
}

// postWithRetry sends the body via HTTP POST with retry on 5xx.
func (o *Output) postWithRetry(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(o.retryDelay * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("webhook: %w", ctx.Err())
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}
