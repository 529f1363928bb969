package features

import (
	"fmt"
	"strings"
)

// Schema is the ordered list of feature columns a scoring model expects.
type Schema []string

// SchemaMismatchError reports a schema that features cannot be aligned to.
type SchemaMismatchError struct {
	Reason  string
	Columns []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Columns) == 0 {
		return "feature schema mismatch: " + e.Reason
	}
	return fmt.Sprintf("feature schema mismatch: %s: %s", e.Reason, strings.Join(e.Columns, ", "))
}

// Validate rejects empty schemas, blank column names and duplicates.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return &SchemaMismatchError{Reason: "schema is empty"}
	}
	seen := make(map[string]bool, len(s))
	var blank, dup []string
	for i, col := range s {
		if strings.TrimSpace(col) == "" {
			blank = append(blank, fmt.Sprintf("#%d", i))
			continue
		}
		if seen[col] {
			dup = append(dup, col)
		}
		seen[col] = true
	}
	if len(blank) > 0 {
		return &SchemaMismatchError{Reason: "blank column names", Columns: blank}
	}
	if len(dup) > 0 {
		return &SchemaMismatchError{Reason: "duplicate column names", Columns: dup}
	}
	return nil
}

// index maps each column name to its position.
func (s Schema) index() map[string]int {
	m := make(map[string]int, len(s))
	for i, col := range s {
		m[col] = i
	}
	return m
}

// Matrix is a dense feature table whose columns equal a Schema.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// Len returns the number of rows.
func (m Matrix) Len() int {
	return len(m.Rows)
}

// Width returns the number of columns.
func (m Matrix) Width() int {
	return len(m.Columns)
}

// Column returns a copy of the named column, or nil if absent.
func (m Matrix) Column(name string) []float64 {
	for j, c := range m.Columns {
		if c != name {
			continue
		}
		out := make([]float64, len(m.Rows))
		for i, row := range m.Rows {
			out[i] = row[j]
		}
		return out
	}
	return nil
}

// Reindex aligns a table with columns src to schema: columns missing from src
// are zero-filled, extra columns are dropped, order follows schema.
func Reindex(src []string, rows [][]float64, schema Schema) (Matrix, error) {
	if err := schema.Validate(); err != nil {
		return Matrix{}, err
	}
	idx := schema.index()
	pos := make([]int, len(src))
	for j, col := range src {
		p, ok := idx[col]
		if !ok {
			p = -1
		}
		pos[j] = p
	}

	out := Matrix{Columns: append([]string(nil), schema...), Rows: make([][]float64, len(rows))}
	for i, row := range rows {
		aligned := make([]float64, len(schema))
		for j, v := range row {
			if j < len(pos) && pos[j] >= 0 {
				aligned[pos[j]] = v
			}
		}
		out.Rows[i] = aligned
	}
	return out, nil
}
