package normalize

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/crimson-sun/sentinel/internal/model"
)

// Workflow logs carry no run id; every line of one log belongs to the same run.
const (
	workflowRunID = "1"
	defaultStage  = "init"
	maxLineBytes  = 1 << 20
)

var (
	// A line starts with its ISO 8601 UTC timestamp, then the message.
	workflowLine = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T[\d:.]+Z)\s+(.*)$`)
	errorWord    = regexp.MustCompile(`(?i)\berror\b`)
)

// decodeWorkflow parses a raw GitHub Actions log. "::group::NAME" (or the
// "##[group]NAME" form found in downloaded logs) opens stage NAME and
// "::endgroup::" returns to "init"; marker lines produce no record. A
// message containing the word "error" has status ERROR, otherwise INFO.
// Lines without a leading timestamp keep an unknown instant.
func decodeWorkflow(data []byte) ([]model.LogRecord, []string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	stage := defaultStage
	var records []model.LogRecord
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		ts, msg := "", strings.TrimSpace(line)
		if m := workflowLine.FindStringSubmatch(line); m != nil {
			ts, msg = m[1], m[2]
		}

		if name, ok := groupName(msg); ok {
			stage = name
			continue
		}
		if isEndGroup(msg) {
			stage = defaultStage
			continue
		}

		status := "INFO"
		if errorWord.MatchString(msg) {
			status = "ERROR"
		}
		records = append(records, model.LogRecord{
			RunID:        workflowRunID,
			Stage:        stage,
			Status:       status,
			Timestamp:    ParseTimestamp(ts),
			RawTimestamp: ts,
			Message:      msg,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("workflow: %w", err)
	}
	return records, nil, nil
}

func groupName(msg string) (string, bool) {
	for _, prefix := range []string{"::group::", "##[group]"} {
		if rest, ok := strings.CutPrefix(msg, prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func isEndGroup(msg string) bool {
	return strings.HasPrefix(msg, "::endgroup::") || strings.HasPrefix(msg, "##[endgroup]")
}
