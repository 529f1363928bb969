package output

import (
	"context"
	"fmt"
	"strings"

	"github.com/crimson-sun/sentinel/internal/model"
)

// Output defines the interface for annotated record destinations.
type Output interface {
	Write(ctx context.Context, rec model.AnnotatedRecord) error
	Close() error
}

// Format selects the export encoding.
type Format int

const (
	CSV Format = iota
	NDJSON
)

func (f Format) String() string {
	switch f {
	case CSV:
		return "csv"
	case NDJSON:
		return "ndjson"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps "csv", "ndjson" or "json" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "":
		return CSV, nil
	case "ndjson", "json", "jsonl":
		return NDJSON, nil
	default:
		return 0, fmt.Errorf("output: unknown format %q", s)
	}
}

type anomaliesOnly struct {
	Output
}

// AnomaliesOnly forwards only records flagged anomalous to inner.
func AnomaliesOnly(inner Output) Output {
	return anomaliesOnly{inner}
}

func (a anomaliesOnly) Write(ctx context.Context, rec model.AnnotatedRecord) error {
	if !rec.Anomalous {
		return nil
	}
	return a.Output.Write(ctx, rec)
}

// Alert is the JSON shape of one anomalous record sent to alert sinks.
type Alert struct {
	RunID       string            `json:"run_id"`
	Stage       string            `json:"stage"`
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Message     string            `json:"message"`
	AnomalyProb float64           `json:"anomaly_prob"`
	Context     map[string]string `json:"context,omitempty"`
}

// NewAlert converts an annotated record.
func NewAlert(rec model.AnnotatedRecord) Alert {
	return Alert{
		RunID:       rec.RunID,
		Stage:       rec.Stage,
		Status:      rec.Status,
		Timestamp:   Timestamp(rec.LogRecord),
		Message:     rec.Message,
		AnomalyProb: rec.AnomalyProb,
		Context:     rec.Context,
	}
}
