package sentinel

import "time"

// Record is one pipeline log event.
// This is the stable public type. Internal representations may evolve
// independently without breaking consumers.
type Record struct {
	RunID     string            `json:"run_id"`
	Stage     string            `json:"stage"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"` // zero when unknown
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"` // extra source columns
}

// Anomaly is a record the model scored above the threshold.
type Anomaly struct {
	Record
	Probability float64 `json:"anomaly_prob"`
}

// Annotated is a record of the full dataset with its anomaly probability,
// 0 for records that were not flagged.
type Annotated struct {
	Record
	Probability float64 `json:"anomaly_prob"`
	Anomalous   bool    `json:"anomalous"`
}

// Result is the outcome of one detection.
type Result struct {
	BatchID   string
	Threshold float64
	Anomalies []Anomaly
	Records   []Annotated
	Skipped   []string // sources that could not be read
}
