package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"

	"github.com/valyala/fastjson"

	"github.com/crimson-sun/sentinel/internal/model"
)

// ProbColumn is the column appended to every exported row.
const ProbColumn = "anomaly_prob"

// Encoder serializes annotated records in the source's column order followed
// by anomaly_prob. Required columns the source never named lead in their
// canonical order. The CSV header is written before the first row or on
// Flush, so an empty export still has one.
type Encoder struct {
	mu      sync.Mutex
	format  Format
	columns []string
	csv     *csv.Writer
	w       io.Writer
	arena   fastjson.Arena
	buf     []byte
	header  bool
}

// NewEncoder writes to w. source lists the dataset's columns in first-seen
// order; it may omit the required columns.
func NewEncoder(w io.Writer, format Format, source []string) *Encoder {
	e := &Encoder{format: format, columns: ExportColumns(source), w: w}
	if format == CSV {
		e.csv = csv.NewWriter(w)
	}
	return e
}

// ExportColumns returns the exported column order for a dataset whose
// columns were first seen in source order.
func ExportColumns(source []string) []string {
	cols := make([]string, 0, len(model.RequiredColumns)+len(source)+1)
	for _, c := range model.RequiredColumns {
		if !slices.Contains(source, c) {
			cols = append(cols, c)
		}
	}
	for _, c := range source {
		if c != ProbColumn && !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	return append(cols, ProbColumn)
}

// Columns returns the exported column order.
func (e *Encoder) Columns() []string {
	return e.columns
}

// Encode writes one record.
func (e *Encoder) Encode(rec model.AnnotatedRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format == NDJSON {
		return e.encodeJSON(rec)
	}
	if err := e.writeHeader(); err != nil {
		return err
	}
	if err := e.csv.Write(e.values(rec)); err != nil {
		return fmt.Errorf("output: csv: %w", err)
	}
	return nil
}

// Flush writes any buffered data, including a pending CSV header.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format == NDJSON {
		return nil
	}
	if err := e.writeHeader(); err != nil {
		return err
	}
	e.csv.Flush()
	if err := e.csv.Error(); err != nil {
		return fmt.Errorf("output: csv: %w", err)
	}
	return nil
}

func (e *Encoder) writeHeader() error {
	if e.header {
		return nil
	}
	e.header = true
	if err := e.csv.Write(e.columns); err != nil {
		return fmt.Errorf("output: csv header: %w", err)
	}
	return nil
}

func (e *Encoder) values(rec model.AnnotatedRecord) []string {
	vals := make([]string, 0, len(e.columns))
	for _, c := range e.columns[:len(e.columns)-1] {
		vals = append(vals, field(rec, c))
	}
	return append(vals, FormatProb(rec.AnomalyProb))
}

// field returns the text of column c on rec.
func field(rec model.AnnotatedRecord, c string) string {
	switch c {
	case model.ColRunID:
		return rec.RunID
	case model.ColStage:
		return rec.Stage
	case model.ColStatus:
		return rec.Status
	case model.ColTimestamp:
		return Timestamp(rec.LogRecord)
	case model.ColMessage:
		return rec.Message
	}
	return rec.Context[c]
}

func (e *Encoder) encodeJSON(rec model.AnnotatedRecord) error {
	e.arena.Reset()
	a := &e.arena
	obj := a.NewObject()
	for _, c := range e.columns[:len(e.columns)-1] {
		obj.Set(c, a.NewString(field(rec, c)))
	}
	obj.Set(ProbColumn, a.NewNumberFloat64(rec.AnomalyProb))
	obj.Set("anomalous", boolValue(a, rec.Anomalous))

	e.buf = obj.MarshalTo(e.buf[:0])
	e.buf = append(e.buf, '\n')
	if _, err := e.w.Write(e.buf); err != nil {
		return fmt.Errorf("output: ndjson: %w", err)
	}
	return nil
}

func boolValue(a *fastjson.Arena, b bool) *fastjson.Value {
	if b {
		return a.NewTrue()
	}
	return a.NewFalse()
}

// Timestamp returns the record's timestamp as it appeared in the input, or
// its normalized key when the raw text was not kept.
func Timestamp(r model.LogRecord) string {
	if r.RawTimestamp != "" {
		return r.RawTimestamp
	}
	return r.TimeKey()
}

// FormatProb renders a probability with the shortest exact representation.
func FormatProb(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}
