package sentinel

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/crimson-sun/sentinel/internal/engine"
	"github.com/crimson-sun/sentinel/internal/engine/artifact"
	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/source"
)

// Detector scores log records against a loaded model bundle.
// Safe for concurrent use.
type Detector struct {
	engine    *engine.Engine
	artifact  *artifact.Artifact
	threshold float64
}

// New loads the model bundle. Loading an ONNX model initializes the runtime,
// so create once and reuse.
func New(opts ...Option) (*Detector, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.threshold < 0 || o.threshold > 1 {
		return nil, fmt.Errorf("sentinel: threshold %v outside [0, 1]", o.threshold)
	}

	art, err := artifact.Load(o.modelDir, artifact.WithONNXLibrary(o.onnxLibrary))
	if err != nil {
		return nil, fmt.Errorf("sentinel: %w", err)
	}
	return &Detector{
		engine:    engine.FromArtifact(art),
		artifact:  art,
		threshold: o.threshold,
	}, nil
}

// ModelName returns the bundle's name and version.
func (d *Detector) ModelName() (name, version string) {
	return d.artifact.Name, d.artifact.Version
}

// DetectFiles reads CSV or JSON log files (optionally .zst compressed).
// Unreadable files are skipped and listed in Result.Skipped; it is an error
// only when none can be read.
func (d *Detector) DetectFiles(ctx context.Context, paths ...string) (Result, error) {
	return d.detect(ctx, source.Files(paths...))
}

// DetectBytes scores an in-memory document. name selects the format by
// extension, e.g. "runs.csv" or "runs.json".
func (d *Detector) DetectBytes(ctx context.Context, name string, data []byte) (Result, error) {
	return d.detect(ctx, []source.Source{source.Bytes(name, data)})
}

// DetectRecords scores records already in memory. Context keys become
// pass-through columns in first-seen order.
func (d *Detector) DetectRecords(ctx context.Context, recs []Record) (Result, error) {
	res, err := d.engine.DetectDataset(ctx, datasetFrom(recs), d.threshold)
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: %w", err)
	}
	return resultFrom(res), nil
}

// Close releases model resources.
func (d *Detector) Close() error {
	return d.artifact.Close()
}

func (d *Detector) detect(ctx context.Context, sources []source.Source) (Result, error) {
	res, err := d.engine.Detect(ctx, engine.Request{Sources: sources, Threshold: d.threshold})
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: %w", err)
	}
	return resultFrom(res), nil
}

func datasetFrom(recs []Record) model.Dataset {
	ds := model.Dataset{
		Records: make([]model.LogRecord, len(recs)),
		Columns: slices.Clone(model.RequiredColumns),
	}
	seen := make(map[string]bool)
	for i, r := range recs {
		lr := model.LogRecord{
			RunID:     r.RunID,
			Stage:     r.Stage,
			Status:    r.Status,
			Timestamp: r.Timestamp,
			Message:   r.Message,
			Context:   r.Context,
		}
		ds.Records[i] = lr
		// Context has no order of its own.
		for _, k := range slices.Sorted(maps.Keys(r.Context)) {
			if !seen[k] && !model.IsRequired(k) {
				seen[k] = true
				ds.Columns = append(ds.Columns, k)
			}
		}
	}
	return ds
}

func recordFrom(r model.LogRecord) Record {
	return Record{
		RunID:     r.RunID,
		Stage:     r.Stage,
		Status:    r.Status,
		Timestamp: r.Timestamp,
		Message:   r.Message,
		Context:   r.Context,
	}
}

func resultFrom(res engine.Result) Result {
	out := Result{
		BatchID:   res.BatchID,
		Threshold: res.Threshold,
		Anomalies: make([]Anomaly, len(res.Anomalies)),
		Records:   make([]Annotated, len(res.Annotated)),
	}
	for i, a := range res.Anomalies {
		out.Anomalies[i] = Anomaly{Record: recordFrom(a.LogRecord), Probability: a.AnomalyProb}
	}
	for i, a := range res.Annotated {
		out.Records[i] = Annotated{Record: recordFrom(a.LogRecord), Probability: a.AnomalyProb, Anomalous: a.Anomalous}
	}
	for _, w := range res.Warnings {
		out.Skipped = append(out.Skipped, w.Source)
	}
	return out
}
