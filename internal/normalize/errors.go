package normalize

import (
	"fmt"
	"strings"
)

// UnreadableSourceError reports a source that could not be decoded. It is
// recoverable: the source is skipped and the batch continues.
type UnreadableSourceError struct {
	Source string
	Err    error
}

func (e *UnreadableSourceError) Error() string {
	return fmt.Sprintf("unreadable source %s: %v", e.Source, e.Err)
}

func (e *UnreadableSourceError) Unwrap() error {
	return e.Err
}

// EmptyInputError is returned when no source could be read at all.
type EmptyInputError struct {
	Failures []*UnreadableSourceError
}

func (e *EmptyInputError) Error() string {
	if len(e.Failures) == 0 {
		return "no input sources"
	}
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Source
	}
	return fmt.Sprintf("no readable input: all %d sources failed (%s)",
		len(e.Failures), strings.Join(names, ", "))
}
