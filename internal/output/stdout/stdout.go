package stdout

import (
	"context"
	"io"
	"os"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/output"
)

// Output writes encoded annotated records to stdout.
type Output struct {
	enc *output.Encoder
}

// New creates a stdout Output. columns lists the source columns in order.
func New(format output.Format, columns []string) *Output {
	return NewWriter(os.Stdout, format, columns)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, format output.Format, columns []string) *Output {
	return &Output{enc: output.NewEncoder(w, format, columns)}
}

func (o *Output) Write(_ context.Context, rec model.AnnotatedRecord) error {
	return o.enc.Encode(rec)
}

// Close flushes buffered rows. It does not close stdout.
func (o *Output) Close() error {
	return o.enc.Flush()
}
