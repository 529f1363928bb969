package scorer

import (
	"fmt"
	"math"

	"github.com/crimson-sun/sentinel/internal/engine/features"
)

// Logistic is a linear model with a sigmoid link: p = 1/(1+exp(-(w·x+b))).
// Weights are keyed by feature column; columns without a weight contribute 0.
type Logistic struct {
	weights   map[string]float64
	intercept float64
}

// NewLogistic creates a Logistic model. Every weighted column must appear in
// schema so a mistyped column name fails at load time.
func NewLogistic(weights map[string]float64, intercept float64, schema features.Schema) (*Logistic, error) {
	known := make(map[string]bool, len(schema))
	for _, c := range schema {
		known[c] = true
	}
	for col, w := range weights {
		if !known[col] {
			return nil, fmt.Errorf("logistic: weight for column %q not in feature schema", col)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("logistic: invalid weight %v for column %q", w, col)
		}
	}
	return &Logistic{weights: weights, intercept: intercept}, nil
}

// Score returns one probability per row.
func (l *Logistic) Score(m features.Matrix) ([]float64, error) {
	coef := make([]float64, m.Width())
	for j, col := range m.Columns {
		coef[j] = l.weights[col]
	}
	out := make([]float64, m.Len())
	for i, row := range m.Rows {
		if len(row) != len(coef) {
			return nil, fmt.Errorf("logistic: row %d has %d values, want %d", i, len(row), len(coef))
		}
		z := l.intercept
		for j, x := range row {
			z += coef[j] * x
		}
		out[i] = sigmoid(z)
	}
	return out, nil
}

// Close is a no-op.
func (l *Logistic) Close() error {
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
