package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/crimson-sun/sentinel/internal/engine/artifact"
	"github.com/crimson-sun/sentinel/internal/engine/features"
	"github.com/crimson-sun/sentinel/internal/engine/scorer"
	"github.com/crimson-sun/sentinel/internal/engine/testdata"
	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/normalize"
	"github.com/crimson-sun/sentinel/internal/source"
)

// fixedModel returns canned probabilities in matrix row order.
type fixedModel struct {
	probs []float64
	calls int
}

func (m *fixedModel) Score(mat features.Matrix) ([]float64, error) {
	m.calls++
	return m.probs[:mat.Len()], nil
}

func (m *fixedModel) Close() error { return nil }

var testSchema = features.Schema{"delta", "stage=build", "status=ERROR"}

func TestDetect_EndToEnd(t *testing.T) {
	// The fixture is already sorted by run and time, so matrix order matches
	// input order.
	mdl := &fixedModel{probs: []float64{0.9, 0.1, 0.6, 0.95}}
	e := New(testSchema, features.Encoding{}, mdl)

	res, err := e.Detect(context.Background(), Request{
		Sources:   []source.Source{source.Bytes("runs.json", testdata.RunsJSON())},
		Threshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.BatchID == "" {
		t.Error("expected a batch id")
	}
	if len(res.Scored) != 4 {
		t.Fatalf("scored = %d, want 4", len(res.Scored))
	}
	if len(res.Anomalies) != 3 {
		t.Fatalf("anomalies = %d, want 3", len(res.Anomalies))
	}
	wantStages := []string{"checkout", "test", "deploy"}
	for i, a := range res.Anomalies {
		if a.Stage != wantStages[i] {
			t.Errorf("anomaly %d stage = %q, want %q", i, a.Stage, wantStages[i])
		}
	}

	want := []float64{0.9, 0, 0.6, 0.95}
	if len(res.Annotated) != len(want) {
		t.Fatalf("annotated = %d rows", len(res.Annotated))
	}
	for i, row := range res.Annotated {
		if row.AnomalyProb != want[i] {
			t.Errorf("row %d prob = %v, want %v", i, row.AnomalyProb, want[i])
		}
		if row.Anomalous != (want[i] > 0) {
			t.Errorf("row %d anomalous = %v", i, row.Anomalous)
		}
	}
	if !res.HasAnomalies() {
		t.Error("HasAnomalies = false")
	}
	if mdl.calls != 1 {
		t.Errorf("model called %d times, want 1", mdl.calls)
	}
}

func TestDetect_ThresholdIsStrict(t *testing.T) {
	mdl := &fixedModel{probs: []float64{0.5, 0.5, 0.5, 0.5}}
	e := New(testSchema, features.Encoding{}, mdl)

	res, err := e.Detect(context.Background(), Request{
		Sources:   []source.Source{source.Bytes("runs.json", testdata.RunsJSON())},
		Threshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.HasAnomalies() {
		t.Errorf("probabilities equal to the threshold flagged: %d", len(res.Anomalies))
	}
	for _, row := range res.Annotated {
		if row.AnomalyProb != 0 || row.Anomalous {
			t.Errorf("unexpected annotation %+v", row)
		}
	}
}

func TestDetect_SkipsMalformedSource(t *testing.T) {
	mdl := &fixedModel{probs: []float64{0.1, 0.1, 0.1, 0.1}}
	e := New(testSchema, features.Encoding{}, mdl)

	res, err := e.Detect(context.Background(), Request{
		Sources: []source.Source{
			source.Bytes("broken.json", []byte(`{"run_id": `)),
			source.Bytes("runs.json", testdata.RunsJSON()),
		},
		Threshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Source != "broken.json" {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if res.Dataset.Len() != 4 {
		t.Errorf("records = %d, want 4", res.Dataset.Len())
	}
}

func TestDetect_NoReadableSource(t *testing.T) {
	e := New(testSchema, features.Encoding{}, &fixedModel{})

	_, err := e.Detect(context.Background(), Request{
		Sources:   []source.Source{source.Bytes("broken.json", []byte("not json"))},
		Threshold: 0.5,
	})
	var empty *normalize.EmptyInputError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyInputError, got %v", err)
	}
}

func TestDetect_InvalidThreshold(t *testing.T) {
	e := New(testSchema, features.Encoding{}, &fixedModel{})
	for _, th := range []float64{-0.1, 1.5} {
		_, err := e.Detect(context.Background(), Request{Threshold: th})
		var te *scorer.ThresholdError
		if !errors.As(err, &te) {
			t.Errorf("threshold %v: expected ThresholdError, got %v", th, err)
		}
	}
}

func TestDetect_NoModel(t *testing.T) {
	e := New(testSchema, features.Encoding{}, nil)
	_, err := e.Detect(context.Background(), Request{Threshold: 0.5})
	var mu *scorer.ModelUnavailableError
	if !errors.As(err, &mu) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
}

func TestDetect_MissingModelPath(t *testing.T) {
	_, err := artifact.Load(filepath.Join(t.TempDir(), "missing"))
	var mu *scorer.ModelUnavailableError
	if !errors.As(err, &mu) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
}

func TestDetect_EmptyDataset(t *testing.T) {
	mdl := &fixedModel{}
	e := New(testSchema, features.Encoding{}, mdl)

	res, err := e.DetectDataset(context.Background(), model.Dataset{}, 0.5)
	if err != nil {
		t.Fatalf("DetectDataset: %v", err)
	}
	if res.HasAnomalies() || len(res.Annotated) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if mdl.calls != 0 {
		t.Errorf("model called on empty input")
	}
}

func TestDetect_FixtureArtifact(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, artifact.ManifestName), testdata.ManifestYAML(), 0o644); err != nil {
		t.Fatal(err)
	}
	art, err := artifact.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer art.Close()

	labels, err := testdata.LoadLabels()
	if err != nil {
		t.Fatal(err)
	}

	e := FromArtifact(art)
	res, err := e.Detect(context.Background(), Request{
		Sources:   []source.Source{source.Bytes("runs.json", testdata.RunsJSON())},
		Threshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for i, row := range res.Annotated {
		if row.Anomalous != (labels[i].Label == 1) {
			t.Errorf("row %d (%s/%s) anomalous = %v, label = %d (p=%.3f)",
				i, row.Stage, row.Status, row.Anomalous, labels[i].Label, row.AnomalyProb)
		}
	}
	// Pass-through columns survive.
	if got := res.Annotated[0].Context["host"]; got != "ci-01" {
		t.Errorf("host = %q, want ci-01", got)
	}
}
