package multi

import (
	"context"
	"errors"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/output"
)

// Multi fans out records to several outputs in order. A failing output does
// not stop delivery to the ones after it.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi over outputs. Nil entries are skipped so callers can
// pass optional sinks unconditionally.
func New(outputs ...output.Output) *Multi {
	m := &Multi{}
	for _, o := range outputs {
		if o != nil {
			m.outputs = append(m.outputs, o)
		}
	}
	return m
}

// Len returns the number of wrapped outputs.
func (m *Multi) Len() int {
	return len(m.outputs)
}

// Write delivers rec to every wrapped output and joins their errors. It
// stops early only when ctx is done.
func (m *Multi) Write(ctx context.Context, rec model.AnnotatedRecord) error {
	var errs []error
	for _, o := range m.outputs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := o.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped output, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
