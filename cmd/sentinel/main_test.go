package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/crimson-sun/sentinel/internal/engine/testdata"
	"github.com/crimson-sun/sentinel/internal/output"
	"github.com/crimson-sun/sentinel/internal/output/webhook"
)

var envKeys = []string{
	"SENTINEL_CONFIG", "SENTINEL_MODEL_DIR", "SENTINEL_THRESHOLD", "SENTINEL_ONNX_LIBRARY",
	"SENTINEL_OUTPUT", "SENTINEL_OUTPUT_FORMAT", "SENTINEL_DESCRIBE",
	"SENTINEL_OPENAI_BASE_URL", "SENTINEL_OPENAI_API_KEY", "OPENAI_API_KEY",
	"SENTINEL_OPENAI_MODEL", "SENTINEL_OPENAI_TIMEOUT", "SENTINEL_WEBHOOK_URL",
	"SENTINEL_KAFKA_BROKERS", "SENTINEL_KAFKA_TOPIC", "SENTINEL_DATABASE_URL",
	"SENTINEL_DATABASE_TABLE", "SENTINEL_ADDR", "SENTINEL_LOG_LEVEL",
}

// setup writes the fixture model and runs into a temp dir and points the
// config at the model. It returns the runs file path.
func setup(t *testing.T) (dir, runs string) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), testdata.ManifestYAML(), 0o644); err != nil {
		t.Fatal(err)
	}
	runs = filepath.Join(dir, "runs.json")
	if err := os.WriteFile(runs, testdata.RunsJSON(), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENTINEL_MODEL_DIR", dir)
	t.Setenv("SENTINEL_LOG_LEVEL", "error")
	return dir, runs
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, exitFatal},
		{[]string{"bogus"}, exitFatal},
		{[]string{"help"}, exitClean},
	}
	for _, tt := range tests {
		var stdout, stderr bytes.Buffer
		if got := run(tt.args, &stdout, &stderr); got != tt.want {
			t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestDetectReportsAnomalies(t *testing.T) {
	dir, runs := setup(t)
	export := filepath.Join(dir, "annotated.csv")

	var stdout, stderr bytes.Buffer
	code := run([]string{"detect", "-out", export, runs}, &stdout, &stderr)
	if code != exitAnomalies {
		t.Fatalf("exit = %d, want %d; stderr: %s", code, exitAnomalies, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Found 2 anomalies in 4 records") {
		t.Errorf("summary missing: %s", out)
	}
	if !strings.Contains(out, "stage='deploy'") || !strings.Contains(out, "stage='test'") {
		t.Errorf("anomaly lines missing: %s", out)
	}

	f, err := os.Open(export)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Errorf("export rows = %d, want 5", len(rows))
	}
}

func TestDetectNoAnomalies(t *testing.T) {
	_, runs := setup(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"detect", "-threshold", "1", runs}, &stdout, &stderr)
	if code != exitClean {
		t.Fatalf("exit = %d, want %d; stderr: %s", code, exitClean, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "No anomalies found in 4 records") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestDetectExportToStdout(t *testing.T) {
	_, runs := setup(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"detect", "-out", "-", "-format", "ndjson", runs}, &stdout, &stderr)
	if code != exitAnomalies {
		t.Fatalf("exit = %d; stderr: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("stdout should hold only the 4 exported rows, got %d:\n%s", len(lines), stdout.String())
	}
	if !strings.Contains(stderr.String(), "Found 2 anomalies") {
		t.Errorf("report should move to stderr: %s", stderr.String())
	}
}

func TestDetectFatal(t *testing.T) {
	dir, runs := setup(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no files", []string{"detect"}},
		{"bad threshold", []string{"detect", "-threshold", "1.5", runs}},
		{"bad format", []string{"detect", "-format", "xml", runs}},
		{"missing model", []string{"detect", "-model", filepath.Join(dir, "nope"), runs}},
		{"unreadable input", []string{"detect", filepath.Join(dir, "missing.csv")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != exitFatal {
				t.Errorf("exit = %d, want %d; stderr: %s", code, exitFatal, stderr.String())
			}
		})
	}
}

func TestDetectPostsAlerts(t *testing.T) {
	_, runs := setup(t)

	var (
		mu     sync.Mutex
		alerts []output.Alert
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		alerts = append(alerts, p.Alerts...)
		mu.Unlock()
	}))
	defer srv.Close()
	t.Setenv("SENTINEL_WEBHOOK_URL", srv.URL)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"detect", runs}, &stdout, &stderr); code != exitAnomalies {
		t.Fatalf("exit = %d; stderr: %s", code, stderr.String())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	for _, a := range alerts {
		if a.AnomalyProb <= 0.5 {
			t.Errorf("alert below threshold: %+v", a)
		}
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want output.Format
	}{
		{"out.csv", output.CSV},
		{"out.ndjson", output.NDJSON},
		{"out.jsonl.zst", output.NDJSON},
		{"out.csv.zst", output.CSV},
		{"out.txt", output.CSV},
		{"-", output.CSV},
	}
	for _, tt := range tests {
		if got := formatFor(tt.path, output.CSV); got != tt.want {
			t.Errorf("formatFor(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
