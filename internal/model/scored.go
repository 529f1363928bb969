package model

// ScoredRecord is a record with the model's anomaly probability attached.
type ScoredRecord struct {
	LogRecord
	AnomalyProb float64
}

// AnnotatedRecord is a row of the exported dataset. AnomalyProb defaults to 0
// and is overwritten for records matching a scored anomaly's key.
type AnnotatedRecord struct {
	LogRecord
	AnomalyProb float64
	Anomalous   bool
}
