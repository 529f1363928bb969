package narrative

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/crimson-sun/sentinel/internal/model"
)

const (
	promptHeader = "You are an assistant analysing CI/CD pipeline logs. " +
		"Below is a list of potential anomalies with their probabilities:\n\n"
	promptFooter = "\n\nWrite a short overview (2-3 sentences) naming the most likely causes " +
		"and recommendations for fixing them."
)

// PromptConfig bounds the size of a generated prompt.
type PromptConfig struct {
	MaxMessageLen int // runes kept per message; 0 keeps all
	TokenBudget   int // estimated tokens for the anomaly list; 0 is unbounded
}

// DefaultPromptConfig keeps prompts well inside a 4k context window.
var DefaultPromptConfig = PromptConfig{
	MaxMessageLen: 200,
	TokenBudget:   2000,
}

// entry is one prompt line: an anomaly and how many identical ones it stands for.
type entry struct {
	rec   model.ScoredRecord
	count int
}

// collapse merges anomalies sharing run, stage, status and message. The
// first occurrence is kept with the highest probability of its group, in
// first-occurrence order.
func collapse(anomalies []model.ScoredRecord) []entry {
	index := make(map[string]int)
	var out []entry
	for _, a := range anomalies {
		key := a.RunID + "\x00" + a.Stage + "\x00" + a.Status + "\x00" + a.Message
		if i, ok := index[key]; ok {
			out[i].count++
			if a.AnomalyProb > out[i].rec.AnomalyProb {
				out[i].rec.AnomalyProb = a.AnomalyProb
			}
			continue
		}
		index[key] = len(out)
		out = append(out, entry{rec: a, count: 1})
	}
	return out
}

// FormatLine renders one anomaly the way it appears in the prompt.
func FormatLine(a model.ScoredRecord, maxMessageLen int) string {
	return fmt.Sprintf("- [P=%.2f] run %s, stage='%s', status=%s, time=%s, msg=%q",
		a.AnomalyProb, a.RunID, a.Stage, a.Status, displayTime(a.LogRecord), truncate(a.Message, maxMessageLen))
}

// BuildPrompt renders the anomaly list into a single user prompt.
func BuildPrompt(anomalies []model.ScoredRecord, cfg PromptConfig) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	entries := collapse(anomalies)
	used := 0
	for i, e := range entries {
		line := FormatLine(e.rec, cfg.MaxMessageLen)
		if e.count > 1 {
			line += fmt.Sprintf(" (x%d)", e.count)
		}
		cost := EstimateTokens(line)
		if cfg.TokenBudget > 0 && i > 0 && used+cost > cfg.TokenBudget {
			fmt.Fprintf(&b, "\n- ... and %d more", remaining(entries[i:]))
			break
		}
		used += cost
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}

	b.WriteString(promptFooter)
	return b.String()
}

func remaining(entries []entry) int {
	n := 0
	for _, e := range entries {
		n += e.count
	}
	return n
}

// EstimateTokens approximates a BPE token count: whitespace-separated words
// times 1.3, rounded up.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	return int(math.Ceil(float64(words) * 1.3))
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func displayTime(r model.LogRecord) string {
	if r.HasTime() {
		return r.Timestamp.UTC().Format(time.DateTime)
	}
	return r.RawTimestamp
}
