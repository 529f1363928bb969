package model

import (
	"strings"
	"time"
)

// Required column names every log source must provide.
const (
	ColRunID     = "run_id"
	ColStage     = "stage"
	ColStatus    = "status"
	ColTimestamp = "timestamp"
	ColMessage   = "message"
)

// RequiredColumns lists the columns a source must carry, in export order.
var RequiredColumns = []string{ColRunID, ColStage, ColStatus, ColTimestamp, ColMessage}

// IsRequired reports whether name is one of RequiredColumns.
func IsRequired(name string) bool {
	for _, c := range RequiredColumns {
		if c == name {
			return true
		}
	}
	return false
}

// LogRecord is one logged pipeline event. Records are immutable once decoded.
type LogRecord struct {
	RunID        string
	Stage        string
	Status       string
	Timestamp    time.Time // zero when the source value could not be parsed
	RawTimestamp string    // timestamp text as it appeared in the source
	Message      string
	Context      map[string]string // pass-through columns (host, user, pid, label, ...)
}

// HasTime reports whether the record carries a known instant.
func (r LogRecord) HasTime() bool {
	return !r.Timestamp.IsZero()
}

// TimeKey returns the timestamp-as-string used for identity matching.
func (r LogRecord) TimeKey() string {
	if r.HasTime() {
		return r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return strings.TrimSpace(r.RawTimestamp)
}

// Key is the coarse identity of a record: run, instant and stage. Two records
// of the same run and stage sharing an instant are indistinguishable.
type Key struct {
	RunID string
	Time  string
	Stage string
}

// Key returns the record's identity key.
func (r LogRecord) Key() Key {
	return Key{RunID: r.RunID, Time: r.TimeKey(), Stage: r.Stage}
}

// Dataset is an ordered record collection plus the source column names,
// required ones included, in first-seen order.
type Dataset struct {
	Records []LogRecord
	Columns []string
}

// Len returns the number of records.
func (d Dataset) Len() int {
	return len(d.Records)
}
