package judge

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/signalnine/verdict/internal/result"
)

// BuildPrompt renders one batch of results for the model.
func BuildPrompt(batch []*result.TestResult, maxLogChars int, defaultTimeout time.Duration) string {
	var b strings.Builder
	b.WriteString(`You are a strict QA judge. For each test below decide whether the captured
logs and step results show that the test's success criteria were met.

Judge only from the evidence shown. A test whose criteria cannot be confirmed
from the logs fails.

`)
	for _, r := range batch {
		tc := r.Case
		fmt.Fprintf(&b, "=== TEST %s: %s (suite %s) ===\n", tc.ID, tc.Name, tc.Suite)
		criteria := strings.TrimSpace(tc.Criteria)
		if criteria == "" {
			criteria = "All steps complete successfully without errors."
		}
		fmt.Fprintf(&b, "Success criteria:\n%s\n\n", criteria)

		b.WriteString("Steps:\n")
		for _, s := range r.Steps {
			status := fmt.Sprintf("exit code %d", s.ExitCode)
			if s.TimedOut {
				status += ", timed out"
			}
			fmt.Fprintf(&b, "- %s: `%s` (%s, %s)\n", s.Name, s.Command, status, s.Duration.Round(time.Millisecond))
		}
		fmt.Fprintf(&b, "Total duration %s of %s allowed.\n\n",
			r.Duration.Round(time.Millisecond), tc.TotalTimeout(defaultTimeout))

		fmt.Fprintf(&b, "Logs (%s):\n", r.LogSource)
		logs := strings.TrimSpace(r.Logs)
		if logs == "" {
			logs = "(no log output)"
		}
		b.WriteString(Truncate(logs, maxLogChars))
		b.WriteString("\n\n")
	}
	b.WriteString(`Respond with ONLY a JSON array containing one object per test, e.g.:
[{"testId": "TC-1", "pass": true, "reason": "short explanation", "evidence": "log line that supports the verdict"}]
`)
	return b.String()
}

// Truncate keeps the head and tail of s when it exceeds limit bytes and marks
// the cut. Both cuts fall on rune boundaries, so slightly less than limit may
// be kept.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	head := limit / 2
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - (limit - limit/2)
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	return s[:head] +
		fmt.Sprintf("\n... [log truncated from %d to %d chars] ...\n", len(s), limit) +
		s[tail:]
}
