package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/output"
)

const defaultBufSize = 64 * 1024 // 64KB

// Option configures a file Output.
type Option func(*Output)

// WithBufSize sets the bufio.Writer buffer size. Default: 64KB.
func WithBufSize(bytes int) Option {
	return func(o *Output) { o.bufSize = bytes }
}

// WithCompression forces zstd compression on or off regardless of the
// path suffix.
func WithCompression(on bool) Option {
	return func(o *Output) { o.compress = &on }
}

// Output writes an annotated export to a file with buffered I/O. Paths
// ending in .zst are zstd-compressed. The file is written under a temporary
// name and renamed into place on Close, so readers never see a partial export.
type Output struct {
	mu       sync.Mutex
	path     string
	tmp      string
	f        *os.File
	w        *bufio.Writer
	zw       *zstd.Encoder
	enc      *output.Encoder
	bufSize  int
	compress *bool
	closed   bool
}

// New creates a file output at path. columns lists the source columns in
// first-seen order.
func New(path string, format output.Format, columns []string, opts ...Option) (*Output, error) {
	o := &Output{
		path:    path,
		bufSize: defaultBufSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.openFile(); err != nil {
		return nil, err
	}

	var dst io.Writer = o.w
	if o.compressed() {
		zw, err := zstd.NewWriter(o.w)
		if err != nil {
			o.f.Close()
			os.Remove(o.tmp)
			return nil, fmt.Errorf("file output: zstd: %w", err)
		}
		o.zw = zw
		dst = zw
	}
	o.enc = output.NewEncoder(dst, format, columns)
	return o, nil
}

func (o *Output) compressed() bool {
	if o.compress != nil {
		return *o.compress
	}
	return strings.HasSuffix(o.path, ".zst")
}

// Write encodes one record.
func (o *Output) Write(_ context.Context, rec model.AnnotatedRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("file output: write after close")
	}
	if err := o.enc.Encode(rec); err != nil {
		return fmt.Errorf("file output: %w", err)
	}
	return nil
}

// Close flushes all layers, closes the file and moves it into place.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	if err := o.flush(); err != nil {
		o.f.Close()
		os.Remove(o.tmp)
		return err
	}
	if err := o.f.Close(); err != nil {
		os.Remove(o.tmp)
		return fmt.Errorf("file output: close: %w", err)
	}
	if err := os.Rename(o.tmp, o.path); err != nil {
		return fmt.Errorf("file output: rename: %w", err)
	}
	return nil
}

func (o *Output) flush() error {
	if err := o.enc.Flush(); err != nil {
		return fmt.Errorf("file output: %w", err)
	}
	if o.zw != nil {
		if err := o.zw.Close(); err != nil {
			return fmt.Errorf("file output: zstd: %w", err)
		}
	}
	if err := o.w.Flush(); err != nil {
		return fmt.Errorf("file output: flush: %w", err)
	}
	return nil
}

// openFile creates the temporary file next to path.
func (o *Output) openFile() error {
	f, err := os.OpenFile(o.path+".tmp", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("file output: open %s: %w", o.path, err)
	}
	o.f = f
	o.tmp = f.Name()
	o.w = bufio.NewWriterSize(f, o.bufSize)
	return nil
}
