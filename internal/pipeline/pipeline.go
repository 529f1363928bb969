package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/sentinel/internal/engine"
	"github.com/crimson-sun/sentinel/internal/metrics"
	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/narrative"
	"github.com/crimson-sun/sentinel/internal/output"
	"github.com/crimson-sun/sentinel/internal/source"
)

// Detector runs one detection over a set of sources.
type Detector interface {
	Detect(ctx context.Context, req engine.Request) (engine.Result, error)
}

// Describer produces a narrative for anomalies.
type Describer interface {
	Describe(ctx context.Context, anomalies []model.ScoredRecord) narrative.Result
}

// Batch identifies one detection run to sinks opened for it.
type Batch struct {
	ID      string
	Columns []string // source columns in first-seen order
}

// Sink opens an output for a finished batch. Export sinks receive every
// annotated record; alert sinks only the anomalous ones.
type Sink struct {
	Name   string
	Alerts bool
	Open   func(Batch) (output.Output, error)
}

// Report is everything one run produced.
type Report struct {
	engine.Result
	Narrative *narrative.Result // nil when no narrative was requested or needed
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSinks adds export or alert sinks.
func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithDescriber requests a narrative whenever anomalies are found.
func WithDescriber(d Describer) Option {
	return func(p *Pipeline) { p.describer = d }
}

// WithMetrics records narrative outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline connects the detection engine to its sinks and the narrative
// service.
type Pipeline struct {
	detector  Detector
	sinks     []Sink
	describer Describer
	metrics   *metrics.Metrics
}

// New creates a Pipeline around det.
func New(det Detector, opts ...Option) *Pipeline {
	p := &Pipeline{detector: det}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run detects anomalies in sources, delivers the results to every sink and,
// when configured and anomalies exist, attaches a narrative. Sink failures
// are returned alongside a complete Report; narrative failures only appear
// in Report.Narrative.
func (p *Pipeline) Run(ctx context.Context, sources []source.Source, threshold float64) (Report, error) {
	res, err := p.detector.Detect(ctx, engine.Request{Sources: sources, Threshold: threshold})
	if err != nil {
		return Report{}, fmt.Errorf("pipeline detect: %w", err)
	}
	rep := Report{Result: res}

	batch := Batch{ID: res.BatchID, Columns: res.Dataset.Columns}
	sinkErr := p.deliver(ctx, batch, res.Annotated)

	if p.describer != nil && res.HasAnomalies() {
		n := p.describer.Describe(ctx, res.Anomalies)
		p.metrics.ObserveNarrative(n.Err != nil)
		rep.Narrative = &n
	}
	return rep, sinkErr
}

func (p *Pipeline) deliver(ctx context.Context, batch Batch, rows []model.AnnotatedRecord) error {
	var errs []error
	for _, s := range p.sinks {
		if err := p.deliverTo(ctx, s, batch, rows); err != nil {
			slog.Warn("sink failed", "sink", s.Name, "batch_id", batch.ID, "error", err)
			errs = append(errs, fmt.Errorf("pipeline output %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) deliverTo(ctx context.Context, s Sink, batch Batch, rows []model.AnnotatedRecord) error {
	out, err := s.Open(batch)
	if err != nil {
		return err
	}
	if s.Alerts {
		out = output.AnomaliesOnly(out)
	}
	for _, row := range rows {
		if err := out.Write(ctx, row); err != nil {
			return errors.Join(err, out.Close())
		}
	}
	return out.Close()
}
