package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/fastjson"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/source"
)

// decodeFunc turns a source's decompressed bytes into records plus the
// column names in first-seen order.
type decodeFunc func(data []byte) ([]model.LogRecord, []string, error)

var decoders = map[source.Format]decodeFunc{
	source.JSON:     decodeJSON,
	source.CSV:      decodeCSV,
	source.Workflow: decodeWorkflow,
}

var parserPool fastjson.ParserPool

// row is a decoded source row before it becomes a LogRecord.
type row struct {
	values map[string]string
	order  []string
}

func (r *row) set(key, val string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.order = append(r.order, key)
	}
	r.values[key] = val
}

// decodeJSON parses a JSON array of objects.
func decodeJSON(data []byte) ([]model.LogRecord, []string, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("json: %w", err)
	}
	if v.Type() != fastjson.TypeArray {
		return nil, nil, fmt.Errorf("json: expected array of log records, got %s", v.Type())
	}
	items, _ := v.Array()

	cols := newColumnSet()
	records := make([]model.LogRecord, 0, len(items))
	for i, item := range items {
		obj, err := item.Object()
		if err != nil {
			return nil, nil, fmt.Errorf("json: element %d: %w", i, err)
		}
		var r row
		obj.Visit(func(key []byte, val *fastjson.Value) {
			r.set(string(key), jsonText(val))
		})
		rec, err := toRecord(r, cols)
		if err != nil {
			return nil, nil, fmt.Errorf("json: element %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, cols.names, nil
}

// jsonText renders a JSON value as the text carried on a record.
func jsonText(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNull:
		return ""
	default:
		return v.String()
	}
}

// decodeCSV parses a columnar table with a header row.
func decodeCSV(data []byte) ([]model.LogRecord, []string, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv: missing header row")
		}
		return nil, nil, fmt.Errorf("csv: %w", err)
	}

	cols := newColumnSet()
	var records []model.LogRecord
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("csv: %w", err)
		}
		var r row
		for i, name := range header {
			r.set(name, fields[i])
		}
		rec, err := toRecord(r, cols)
		if err != nil {
			return nil, nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if records == nil {
		// Header-only tables still declare their columns.
		var r row
		for _, name := range header {
			r.set(name, "")
		}
		if err := checkRequired(r); err != nil {
			return nil, nil, fmt.Errorf("csv: %w", err)
		}
		return nil, header, nil
	}
	return records, cols.names, nil
}

func checkRequired(r row) error {
	for _, c := range model.RequiredColumns {
		if _, ok := r.values[c]; !ok {
			return fmt.Errorf("missing required column %q", c)
		}
	}
	return nil
}

// toRecord validates required columns and splits off pass-through context.
func toRecord(r row, cols *columnSet) (model.LogRecord, error) {
	if err := checkRequired(r); err != nil {
		return model.LogRecord{}, err
	}
	rec := model.LogRecord{
		RunID:        r.values[model.ColRunID],
		Stage:        r.values[model.ColStage],
		Status:       r.values[model.ColStatus],
		RawTimestamp: r.values[model.ColTimestamp],
		Timestamp:    ParseTimestamp(r.values[model.ColTimestamp]),
		Message:      r.values[model.ColMessage],
	}
	for _, key := range r.order {
		cols.add(key)
		if model.IsRequired(key) {
			continue
		}
		if rec.Context == nil {
			rec.Context = make(map[string]string)
		}
		rec.Context[key] = r.values[key]
	}
	return rec, nil
}

// columnSet accumulates column names in first-seen order.
type columnSet struct {
	seen  map[string]bool
	names []string
}

func newColumnSet() *columnSet {
	return &columnSet{seen: make(map[string]bool)}
}

func (c *columnSet) add(name string) {
	if c.seen[name] {
		return
	}
	c.seen[name] = true
	c.names = append(c.names, name)
}
