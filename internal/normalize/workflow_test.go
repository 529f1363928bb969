package normalize

import (
	"context"
	"testing"
	"time"

	"github.com/crimson-sun/sentinel/internal/source"
)

func TestDecodeWorkflow(t *testing.T) {
	type want struct {
		stage, status, ts, msg string
	}
	tests := []struct {
		name string
		log  string
		want []want
	}{
		{
			name: "stages follow group markers",
			log: "2024-05-01T12:00:00.1234567Z Starting job\n" +
				"::group::Run tests\n" +
				"2024-05-01T12:00:05Z running 42 tests\n" +
				"2024-05-01T12:00:09Z Error: 1 test failed\n" +
				"::endgroup::\n" +
				"2024-05-01T12:00:10Z Cleaning up\n",
			want: []want{
				{"init", "INFO", "2024-05-01T12:00:00.1234567Z", "Starting job"},
				{"Run tests", "INFO", "2024-05-01T12:00:05Z", "running 42 tests"},
				{"Run tests", "ERROR", "2024-05-01T12:00:09Z", "Error: 1 test failed"},
				{"init", "INFO", "2024-05-01T12:00:10Z", "Cleaning up"},
			},
		},
		{
			name: "error must be a whole word",
			log: "2024-05-01T12:00:00Z no errors found\n" +
				"2024-05-01T12:00:01Z ERROR while linking\n" +
				"2024-05-01T12:00:02Z fatal: error.\n",
			want: []want{
				{"init", "INFO", "2024-05-01T12:00:00Z", "no errors found"},
				{"init", "ERROR", "2024-05-01T12:00:01Z", "ERROR while linking"},
				{"init", "ERROR", "2024-05-01T12:00:02Z", "fatal: error."},
			},
		},
		{
			name: "timestamped markers from downloaded logs",
			log: "\ufeff2024-05-01T12:00:00Z ##[group]Run actions/checkout@v4\r\n" +
				"2024-05-01T12:00:01Z Syncing repository\r\n" +
				"2024-05-01T12:00:02Z ##[endgroup]\r\n",
			want: []want{
				{"Run actions/checkout@v4", "INFO", "2024-05-01T12:00:01Z", "Syncing repository"},
			},
		},
		{
			name: "lines without timestamp keep an unknown instant",
			log:  "plain output line\n\n   \n",
			want: []want{
				{"init", "INFO", "", "plain output line"},
			},
		},
		{
			name: "empty log",
			log:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, cols, err := decodeWorkflow([]byte(tt.log))
			if err != nil {
				t.Fatalf("decodeWorkflow: %v", err)
			}
			if len(cols) != 0 {
				t.Errorf("columns = %v, want none", cols)
			}
			if len(recs) != len(tt.want) {
				t.Fatalf("records = %d, want %d: %+v", len(recs), len(tt.want), recs)
			}
			for i, w := range tt.want {
				r := recs[i]
				if r.RunID != "1" || r.Stage != w.stage || r.Status != w.status || r.RawTimestamp != w.ts || r.Message != w.msg {
					t.Errorf("record %d = {run %s, %q, %s, %q, %q}, want %+v",
						i, r.RunID, r.Stage, r.Status, r.RawTimestamp, r.Message, w)
				}
				if (w.ts == "") != r.Timestamp.IsZero() {
					t.Errorf("record %d: instant %v for raw %q", i, r.Timestamp, w.ts)
				}
			}
		})
	}
}

func TestNormalize_WorkflowLog(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "job.log",
		"::group::Build\n2024-05-01T12:00:00Z compiling\n2024-05-01T12:00:03Z build error: undefined symbol\n::endgroup::\n")

	res, err := Normalize(context.Background(), source.Files(path))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	recs := res.Dataset.Records
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[1].Status != "ERROR" || recs[1].Stage != "Build" {
		t.Errorf("second record = %+v", recs[1])
	}
	if d := recs[1].Timestamp.Sub(recs[0].Timestamp); d != 3*time.Second {
		t.Errorf("instants %v apart, want 3s", d)
	}
}
