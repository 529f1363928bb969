package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/sentinel/internal/engine/artifact"
	"github.com/crimson-sun/sentinel/internal/engine/features"
	"github.com/crimson-sun/sentinel/internal/engine/merger"
	"github.com/crimson-sun/sentinel/internal/engine/scorer"
	"github.com/crimson-sun/sentinel/internal/metrics"
	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/normalize"
	"github.com/crimson-sun/sentinel/internal/source"
)

// Engine orchestrates the normalize → build features → score → filter → merge
// pipeline. It holds the injected model for its lifetime and never mutates
// it, so one Engine may serve concurrent callers.
type Engine struct {
	schema   features.Schema
	encoding features.Encoding
	model    scorer.Model
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records run statistics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine scoring with mdl over schema.
func New(schema features.Schema, enc features.Encoding, mdl scorer.Model, opts ...Option) *Engine {
	e := &Engine{
		schema:   schema,
		encoding: enc,
		model:    mdl,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromArtifact creates an Engine over a loaded model bundle. The caller keeps
// ownership of art and closes it after the Engine is no longer used.
func FromArtifact(art *artifact.Artifact, opts ...Option) *Engine {
	return New(art.Schema, art.Encoding, art.Model, opts...)
}

// Request is the input of one detection run.
type Request struct {
	Sources   []source.Source
	Threshold float64
}

// Result is the output of one detection run.
type Result struct {
	BatchID   string
	Threshold float64
	Dataset   model.Dataset
	Warnings  []*normalize.UnreadableSourceError
	Scored    []model.ScoredRecord // matrix row order
	Anomalies []model.ScoredRecord // probability strictly above Threshold
	Annotated []model.AnnotatedRecord
}

// HasAnomalies reports whether any record was scored above the threshold.
func (r Result) HasAnomalies() bool {
	return len(r.Anomalies) > 0
}

// Detect runs the full pipeline over req.Sources.
func (e *Engine) Detect(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if err := e.preflight(req.Threshold); err != nil {
		e.metrics.ObserveRun(0, 0, 0, time.Since(start), err)
		return Result{}, err
	}

	norm, err := normalize.Normalize(ctx, req.Sources)
	if err != nil {
		e.metrics.ObserveRun(0, 0, len(norm.Warnings), time.Since(start), err)
		return Result{}, err
	}

	res, err := e.detect(norm.Dataset, req.Threshold)
	res.Warnings = norm.Warnings
	e.metrics.ObserveRun(len(res.Scored), len(res.Anomalies), len(norm.Warnings), time.Since(start), err)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// DetectDataset runs the pipeline over records that are already decoded.
func (e *Engine) DetectDataset(ctx context.Context, ds model.Dataset, threshold float64) (Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := e.preflight(threshold); err != nil {
		e.metrics.ObserveRun(0, 0, 0, time.Since(start), err)
		return Result{}, err
	}
	res, err := e.detect(ds, threshold)
	e.metrics.ObserveRun(len(res.Scored), len(res.Anomalies), 0, time.Since(start), err)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// preflight rejects runs that cannot produce a result before any input is read.
func (e *Engine) preflight(threshold float64) error {
	if e.model == nil {
		return &scorer.ModelUnavailableError{Path: "<unset>", Err: errNoModel}
	}
	if err := e.schema.Validate(); err != nil {
		return err
	}
	return scorer.ValidateThreshold(threshold)
}

func (e *Engine) detect(ds model.Dataset, threshold float64) (Result, error) {
	res := Result{
		BatchID:   uuid.NewString(),
		Threshold: threshold,
		Dataset:   ds,
	}

	m, ordered, err := features.Build(ds.Records, e.schema, e.encoding)
	if err != nil {
		return res, err
	}

	scored, err := scorer.Score(e.model, m, ordered, threshold)
	if err != nil {
		return res, err
	}
	res.Scored = scored.Scored
	res.Anomalies = scored.Anomalies
	res.Annotated = merger.Merge(ds.Records, scored.Anomalies)

	slog.Info("detection complete",
		"batch_id", res.BatchID,
		"records", len(ds.Records),
		"anomalies", len(res.Anomalies),
		"threshold", threshold,
	)
	return res, nil
}
