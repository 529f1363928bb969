// Package features derives the per-record feature table scored by a model.
package features

import (
	"cmp"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/crimson-sun/sentinel/internal/model"
)

// Derived column names and prefixes.
const (
	DeltaColumn  = "delta"
	StagePrefix  = "stage="
	StatusPrefix = "status="
)

// TextTransform maps a message to a fixed-width vector. It is fixed at
// model-fitting time and supplied with the model artifact.
type TextTransform interface {
	Columns() []string
	Transform(text string) []float64
}

// Scaling standardizes delta as (delta-Mean)/Scale. A zero Scale disables it.
type Scaling struct {
	Mean  float64
	Scale float64
}

func (s Scaling) apply(v float64) float64 {
	if s.Scale == 0 {
		return v
	}
	return (v - s.Mean) / s.Scale
}

// Encoding carries the model-side parameters of the feature transform.
type Encoding struct {
	Delta Scaling
	Text  TextTransform // nil means no text features
}

// Build groups records by run, orders each run chronologically, derives
// features and aligns them to schema. The returned records are in matrix row
// order. Records are never dropped.
func Build(records []model.LogRecord, schema Schema, enc Encoding) (Matrix, []model.LogRecord, error) {
	if err := schema.Validate(); err != nil {
		return Matrix{}, nil, err
	}
	logUnmatched(schema, enc)

	order, deltas := Order(records)
	ordered := make([]model.LogRecord, len(order))
	for i, idx := range order {
		ordered[i] = records[idx]
	}

	cols, rows := derive(ordered, deltas, schema, enc)
	m, err := Reindex(cols, rows, schema)
	if err != nil {
		return Matrix{}, nil, err
	}
	return m, ordered, nil
}

// Order returns record indexes grouped by run (runs ordered by run id) and
// stably sorted by timestamp within each run, together with each position's
// delta in seconds. Unknown instants sort before known ones and contribute a
// delta of 0.
func Order(records []model.LogRecord) (order []int, deltas []float64) {
	var runs []string
	groups := make(map[string][]int)
	for i, r := range records {
		if _, ok := groups[r.RunID]; !ok {
			runs = append(runs, r.RunID)
		}
		groups[r.RunID] = append(groups[r.RunID], i)
	}
	slices.SortFunc(runs, compareRunIDs)

	order = make([]int, 0, len(records))
	deltas = make([]float64, 0, len(records))
	for _, run := range runs {
		g := groups[run]
		sort.SliceStable(g, func(a, b int) bool {
			ra, rb := records[g[a]], records[g[b]]
			if !ra.HasTime() {
				return rb.HasTime()
			}
			if !rb.HasTime() {
				return false
			}
			return ra.Timestamp.Before(rb.Timestamp)
		})
		for k, idx := range g {
			d := 0.0
			if k > 0 {
				prev, cur := records[g[k-1]], records[idx]
				if prev.HasTime() && cur.HasTime() {
					d = cur.Timestamp.Sub(prev.Timestamp).Seconds()
				}
			}
			order = append(order, idx)
			deltas = append(deltas, d)
		}
	}
	return order, deltas
}

// compareRunIDs orders integer ids numerically, ahead of any other id;
// other ids compare as text.
func compareRunIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// derive builds the unaligned feature table: delta, one-hot stage and status
// for every category observed, and the text transform output. Only text
// columns present in schema are computed.
func derive(records []model.LogRecord, deltas []float64, schema Schema, enc Encoding) ([]string, [][]float64) {
	cols := []string{DeltaColumn}
	colPos := map[string]int{DeltaColumn: 0}
	addCol := func(name string) int {
		if p, ok := colPos[name]; ok {
			return p
		}
		colPos[name] = len(cols)
		cols = append(cols, name)
		return len(cols) - 1
	}
	for _, r := range records {
		addCol(StagePrefix + r.Stage)
		addCol(StatusPrefix + r.Status)
	}

	var textCols []string
	if enc.Text != nil && wantsAny(schema, enc.Text.Columns()) {
		textCols = enc.Text.Columns()
	}
	textStart := len(cols)
	cols = append(cols, textCols...)

	rows := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, len(cols))
		row[0] = enc.Delta.apply(deltas[i])
		row[colPos[StagePrefix+r.Stage]] = 1
		row[colPos[StatusPrefix+r.Status]] = 1
		if textCols != nil {
			copy(row[textStart:], enc.Text.Transform(r.Message))
		}
		rows[i] = row
	}
	return cols, rows
}

func wantsAny(schema Schema, cols []string) bool {
	want := make(map[string]bool, len(schema))
	for _, c := range schema {
		want[c] = true
	}
	for _, c := range cols {
		if want[c] {
			return true
		}
	}
	return false
}

// logUnmatched reports schema columns no derivation can produce; they are
// always zero-filled.
func logUnmatched(schema Schema, enc Encoding) {
	text := make(map[string]bool)
	if enc.Text != nil {
		for _, c := range enc.Text.Columns() {
			text[c] = true
		}
	}
	var unmatched []string
	for _, c := range schema {
		if c == DeltaColumn || text[c] ||
			strings.HasPrefix(c, StagePrefix) || strings.HasPrefix(c, StatusPrefix) {
			continue
		}
		unmatched = append(unmatched, c)
	}
	if len(unmatched) > 0 {
		slog.Debug("schema columns without a feature source are zero-filled", "columns", unmatched)
	}
}
