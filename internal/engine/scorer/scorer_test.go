package scorer

import (
	"errors"
	"math"
	"testing"

	"github.com/crimson-sun/sentinel/internal/engine/features"
	"github.com/crimson-sun/sentinel/internal/model"
)

// fixedModel returns preset probabilities and counts calls.
type fixedModel struct {
	probs []float64
	err   error
	calls int
}

func (f *fixedModel) Score(m features.Matrix) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.probs, nil
}

func (f *fixedModel) Close() error { return nil }

func matrixOf(n int) (features.Matrix, []model.LogRecord) {
	m := features.Matrix{Columns: []string{"delta"}, Rows: make([][]float64, n)}
	recs := make([]model.LogRecord, n)
	for i := range m.Rows {
		m.Rows[i] = []float64{0}
		recs[i] = model.LogRecord{RunID: "1", Message: string(rune('a' + i))}
	}
	return m, recs
}

func TestScore_ThresholdIsStrict(t *testing.T) {
	m, recs := matrixOf(4)
	mdl := &fixedModel{probs: []float64{0.9, 0.1, 0.5, 0.95}}

	res, err := Score(mdl, m, recs, 0.5)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if mdl.calls != 1 {
		t.Errorf("model should be called once per batch, got %d", mdl.calls)
	}
	if len(res.Scored) != 4 {
		t.Fatalf("every record must be scored, got %d", len(res.Scored))
	}
	if len(res.Anomalies) != 2 {
		t.Fatalf("expected 2 anomalies (0.9, 0.95), got %d", len(res.Anomalies))
	}
	for _, a := range res.Anomalies {
		if a.AnomalyProb == 0.5 {
			t.Error("probability equal to threshold must not be anomalous")
		}
	}
	if res.Scored[1].AnomalyProb != 0.1 {
		t.Errorf("non-anomalous record keeps its probability, got %v", res.Scored[1].AnomalyProb)
	}
}

func TestScore_ThresholdBounds(t *testing.T) {
	m, recs := matrixOf(3)
	mdl := &fixedModel{probs: []float64{0.0001, 0.999, 1.0}}

	res, err := Score(mdl, m, recs, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Anomalies) != 3 {
		t.Errorf("threshold 0 should include every positive probability, got %d", len(res.Anomalies))
	}

	res, err = Score(mdl, m, recs, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("threshold 1 should exclude everything, got %d", len(res.Anomalies))
	}
}

func TestScore_InvalidThreshold(t *testing.T) {
	m, recs := matrixOf(1)
	for _, th := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := Score(&fixedModel{probs: []float64{0.5}}, m, recs, th)
		var te *ThresholdError
		if !errors.As(err, &te) {
			t.Errorf("threshold %v: expected *ThresholdError, got %v", th, err)
		}
	}
}

func TestScore_NilModel(t *testing.T) {
	m, recs := matrixOf(1)
	_, err := Score(nil, m, recs, 0.5)
	var mu *ModelUnavailableError
	if !errors.As(err, &mu) {
		t.Fatalf("expected *ModelUnavailableError, got %v", err)
	}
}

func TestScore_ModelErrors(t *testing.T) {
	m, recs := matrixOf(2)
	tests := []struct {
		name string
		mdl  *fixedModel
	}{
		{"failure", &fixedModel{err: errors.New("boom")}},
		{"short output", &fixedModel{probs: []float64{0.1}}},
		{"out of range", &fixedModel{probs: []float64{0.1, 1.5}}},
		{"nan", &fixedModel{probs: []float64{math.NaN(), 0.2}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Score(tc.mdl, m, recs, 0.5); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScore_EmptySkipsModel(t *testing.T) {
	mdl := &fixedModel{}
	res, err := Score(mdl, features.Matrix{Columns: []string{"delta"}}, nil, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if mdl.calls != 0 {
		t.Error("model should not be called for an empty batch")
	}
	if len(res.Scored) != 0 {
		t.Errorf("expected no scored records, got %d", len(res.Scored))
	}
}

func TestScore_MisalignedRecords(t *testing.T) {
	m, recs := matrixOf(2)
	if _, err := Score(&fixedModel{probs: []float64{0.1, 0.2}}, m, recs[:1], 0.5); err == nil {
		t.Error("expected error for misaligned records")
	}
}

func TestIsAnomalous(t *testing.T) {
	tests := []struct {
		p, th float64
		want  bool
	}{
		{0.5, 0.5, false},
		{0.5000001, 0.5, true},
		{0.1, 0.0, true},
		{0.0, 0.0, false},
		{0.99, 1.0, false},
		{1.0, 1.0, false},
	}
	for _, tc := range tests {
		if got := IsAnomalous(tc.p, tc.th); got != tc.want {
			t.Errorf("IsAnomalous(%v, %v) = %v, want %v", tc.p, tc.th, got, tc.want)
		}
	}
}
