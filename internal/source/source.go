package source

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Format identifies how a source's bytes are laid out.
type Format int

const (
	JSON     Format = iota // JSON array of objects
	CSV                    // columnar table with a header row
	Workflow               // raw GitHub Actions workflow log, one event per line
)

func (f Format) String() string {
	switch f {
	case CSV:
		return "csv"
	case Workflow:
		return "workflow"
	default:
		return "json"
	}
}

// Source is a named input of log records.
type Source interface {
	// Name identifies the source in warnings and errors (usually a path).
	Name() string
	// Open returns the raw, possibly compressed, contents.
	Open() (io.ReadCloser, error)
}

type fileSource struct {
	path string
}

// File returns a Source reading the file at path.
func File(path string) Source {
	return fileSource{path: path}
}

// Files returns one Source per path, in order.
func Files(paths ...string) []Source {
	out := make([]Source, len(paths))
	for i, p := range paths {
		out[i] = File(p)
	}
	return out
}

func (s fileSource) Name() string { return s.path }

func (s fileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return f, nil
}

type bytesSource struct {
	name string
	data []byte
}

// Bytes returns a Source over an in-memory payload, such as an upload.
func Bytes(name string, data []byte) Source {
	return bytesSource{name: name, data: data}
}

func (s bytesSource) Name() string { return s.name }

func (s bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// Compressed reports whether the source name carries a .zst suffix.
func Compressed(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zst")
}

// DetectFormat infers the layout from the name, ignoring a .zst suffix.
func DetectFormat(name string) Format {
	if Compressed(name) {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return CSV
	case ".log", ".txt":
		return Workflow
	default:
		return JSON
	}
}

// ReadAll opens the source and returns its decompressed contents.
func ReadAll(s Source) ([]byte, error) {
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if Compressed(s.Name()) {
		dec, err := zstd.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("source: zstd: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", s.Name(), err)
	}
	return data, nil
}
