// Package scorer attaches anomaly probabilities to feature rows and filters
// the anomalous subset.
package scorer

import (
	"fmt"
	"math"

	"github.com/crimson-sun/sentinel/internal/engine/features"
	"github.com/crimson-sun/sentinel/internal/model"
)

// Model is a trained scoring capability. Score is called once per batch with
// the full matrix and returns one probability per row.
type Model interface {
	Score(m features.Matrix) ([]float64, error)
	Close() error
}

// ModelUnavailableError reports a model that could not be located or loaded.
// It is fatal to the whole pipeline.
type ModelUnavailableError struct {
	Path string
	Err  error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable at %s: %v", e.Path, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// ThresholdError reports a threshold outside [0, 1].
type ThresholdError struct {
	Threshold float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("threshold %v outside [0, 1]", e.Threshold)
}

// ValidateThreshold returns a *ThresholdError unless 0 <= t <= 1.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return &ThresholdError{Threshold: t}
	}
	return nil
}

// IsAnomalous reports whether p strictly exceeds threshold. A probability equal
// to the threshold is not anomalous.
func IsAnomalous(p, threshold float64) bool {
	return p > threshold
}

// Result holds every scored record and the anomalous subset, both in matrix
// row order.
type Result struct {
	Scored    []model.ScoredRecord
	Anomalies []model.ScoredRecord
}

// Score runs the model once over m and pairs each probability with its
// record. records must be aligned 1:1 with m's rows.
func Score(mdl Model, m features.Matrix, records []model.LogRecord, threshold float64) (Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return Result{}, err
	}
	if mdl == nil {
		return Result{}, &ModelUnavailableError{Path: "<nil>", Err: fmt.Errorf("no model configured")}
	}
	if m.Len() != len(records) {
		return Result{}, fmt.Errorf("scorer: %d feature rows for %d records", m.Len(), len(records))
	}
	if m.Len() == 0 {
		return Result{}, nil
	}

	probs, err := mdl.Score(m)
	if err != nil {
		return Result{}, fmt.Errorf("scorer: %w", err)
	}
	if len(probs) != m.Len() {
		return Result{}, fmt.Errorf("scorer: model returned %d probabilities for %d rows", len(probs), m.Len())
	}

	res := Result{Scored: make([]model.ScoredRecord, len(records))}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Result{}, fmt.Errorf("scorer: probability %v for row %d outside [0, 1]", p, i)
		}
		sr := model.ScoredRecord{LogRecord: records[i], AnomalyProb: p}
		res.Scored[i] = sr
		if IsAnomalous(p, threshold) {
			res.Anomalies = append(res.Anomalies, sr)
		}
	}
	return res, nil
}
