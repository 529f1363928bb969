// Package testdata embeds a small labeled run set and a logistic model
// manifest used by tests across packages.
package testdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed runs.json
var runsJSON []byte

//go:embed manifest.yaml
var manifestYAML []byte

// RunsJSON returns the raw fixture: two runs, four records, as a JSON array.
func RunsJSON() []byte {
	return append([]byte(nil), runsJSON...)
}

// ManifestYAML returns the fixture model manifest (logistic scorer).
func ManifestYAML() []byte {
	return append([]byte(nil), manifestYAML...)
}

// LabeledRecord is the subset of a fixture record needed to check detection.
type LabeledRecord struct {
	RunID   int    `json:"run_id"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Label   int    `json:"label"`
}

// LoadLabels parses the embedded fixture and returns its labels in order.
func LoadLabels() ([]LabeledRecord, error) {
	var recs []LabeledRecord
	if err := json.Unmarshal(runsJSON, &recs); err != nil {
		return nil, fmt.Errorf("parse runs.json: %w", err)
	}
	return recs, nil
}
