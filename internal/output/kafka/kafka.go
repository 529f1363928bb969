// Package kafka publishes anomaly alerts to a Kafka topic, one message per
// record keyed by run id so a run's alerts stay on one partition. Alerts are
// buffered and sent in a single WriteMessages call on Close.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/output"
)

// Config configures the producer.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int           // default 100
	BatchTimeout time.Duration // default 100ms
	RequiredAcks string        // none, one (default) or all
	WriteTimeout time.Duration // default 5s
	CloseTimeout time.Duration // bounds the send on Close, default 30s
}

const defaultCloseTimeout = 30 * time.Second

// MessageWriter is the subset of *kafka.Writer the output uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Output writes alerts to Kafka.
type Output struct {
	w            MessageWriter
	batchID      string
	closeTimeout time.Duration

	mu     sync.Mutex
	msgs   []kafkago.Message
	closed bool
}

// New creates an Output backed by a kafka.Writer.
func New(cfg Config, batchID string) (*Output, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka output: brokers and topic are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...any) {
			slog.Warn("kafka writer error", "detail", fmt.Sprintf(msg, args...))
		}),
	}
	slog.Info("kafka output created", "brokers", cfg.Brokers, "topic", cfg.Topic)
	o := NewWithWriter(w, batchID)
	if cfg.CloseTimeout > 0 {
		o.closeTimeout = cfg.CloseTimeout
	}
	return o, nil
}

// NewWithWriter creates an Output over an existing writer.
func NewWithWriter(w MessageWriter, batchID string) *Output {
	return &Output{w: w, batchID: batchID, closeTimeout: defaultCloseTimeout}
}

func requiredAcks(s string) kafkago.RequiredAcks {
	switch s {
	case "none":
		return kafkago.RequireNone
	case "all":
		return kafkago.RequireAll
	default:
		return kafkago.RequireOne
	}
}

// Write queues rec as a JSON alert.
func (o *Output) Write(_ context.Context, rec model.AnnotatedRecord) error {
	value, err := json.Marshal(output.NewAlert(rec))
	if err != nil {
		return fmt.Errorf("kafka output: marshal: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(rec.RunID),
		Value: value,
	}
	if o.batchID != "" {
		msg.Headers = []kafkago.Header{{Key: "batch_id", Value: []byte(o.batchID)}}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("kafka output: write after close")
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

// Len returns the number of queued alerts.
func (o *Output) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

// Close sends every queued alert and closes the writer. Any alert that
// could not be delivered is reported in the returned error.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	msgs := o.msgs
	o.msgs = nil
	o.mu.Unlock()

	var sendErr error
	if len(msgs) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), o.closeTimeout)
		defer cancel()
		if err := o.w.WriteMessages(ctx, msgs...); err != nil {
			sendErr = fmt.Errorf("kafka output: %d of %d alerts undelivered: %w", undelivered(err, len(msgs)), len(msgs), err)
		}
	}
	if err := o.w.Close(); err != nil {
		return errors.Join(sendErr, fmt.Errorf("kafka output: close: %w", err))
	}
	return sendErr
}

// undelivered counts failed messages. kafka-go reports partial failures as
// WriteErrors, indexed like the input; any other error fails the whole call.
func undelivered(err error, total int) int {
	var werrs kafkago.WriteErrors
	if errors.As(err, &werrs) {
		return werrs.Count()
	}
	return total
}
