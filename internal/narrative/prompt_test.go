package narrative

import (
	"fmt"
	"strings"
	"testing"

	"github.com/crimson-sun/sentinel/internal/model"
)

func TestFormatLine(t *testing.T) {
	got := FormatLine(anomaly("7", "deploy", `Deployment "prod" error`, 0.934), 0)
	want := `- [P=0.93] run 7, stage='deploy', status=ERROR, time=2024-05-01 12:00:15, msg="Deployment \"prod\" error"`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestFormatLine_RawTimestamp(t *testing.T) {
	a := model.ScoredRecord{LogRecord: model.LogRecord{RunID: "1", RawTimestamp: "yesterday"}, AnomalyProb: 0.6}
	if got := FormatLine(a, 0); !strings.Contains(got, "time=yesterday") {
		t.Errorf("got %s", got)
	}
}

func TestBuildPrompt_TruncatesMessages(t *testing.T) {
	long := strings.Repeat("x", 500)
	p := BuildPrompt([]model.ScoredRecord{anomaly("1", "test", long, 0.9)}, PromptConfig{MaxMessageLen: 10})
	if strings.Contains(p, strings.Repeat("x", 11)) {
		t.Error("message not truncated")
	}
	if !strings.Contains(p, strings.Repeat("x", 10)+"...") {
		t.Error("missing truncation marker")
	}
}

func TestBuildPrompt_CollapsesDuplicates(t *testing.T) {
	p := BuildPrompt([]model.ScoredRecord{
		anomaly("1", "test", "flaky", 0.7),
		anomaly("1", "test", "flaky", 0.9),
		anomaly("1", "test", "flaky", 0.8),
		anomaly("2", "deploy", "denied", 0.6),
	}, PromptConfig{})

	if n := strings.Count(p, "msg=\"flaky\""); n != 1 {
		t.Errorf("flaky lines = %d, want 1", n)
	}
	if !strings.Contains(p, "[P=0.90] run 1") || !strings.Contains(p, "(x3)") {
		t.Errorf("collapsed line wrong:\n%s", p)
	}
	if strings.Index(p, "run 1") > strings.Index(p, "run 2") {
		t.Error("first-occurrence order not kept")
	}
}

func TestBuildPrompt_TokenBudget(t *testing.T) {
	var as []model.ScoredRecord
	for i := 0; i < 50; i++ {
		as = append(as, anomaly(fmt.Sprint(i), "build", "compile error in module", 0.9))
	}
	p := BuildPrompt(as, PromptConfig{TokenBudget: 60})
	if !strings.Contains(p, "more") {
		t.Fatalf("expected overflow marker:\n%s", p)
	}
	lines := strings.Count(p, "[P=")
	if lines == 0 || lines >= 50 {
		t.Errorf("kept %d lines", lines)
	}
	if !strings.Contains(p, fmt.Sprintf("and %d more", 50-lines)) {
		t.Errorf("overflow count wrong:\n%s", p)
	}
}

func TestBuildPrompt_FirstLineAlwaysKept(t *testing.T) {
	p := BuildPrompt([]model.ScoredRecord{anomaly("1", "test", "a b c d e f", 0.9)}, PromptConfig{TokenBudget: 1})
	if !strings.Contains(p, "[P=0.90]") {
		t.Error("first anomaly dropped")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one", 2},
		{"one two three", 4},
		{"a b c d e f g h i j", 13},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
