package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalnine/verdict/internal/testcase"
)

const (
	JudgeDeterministic = "deterministic"
	JudgeSemantic      = "semantic"
)

// Where TestResult.Logs came from.
const (
	LogsFromSession    = "session"
	LogsFromTranscript = "transcript"
)

type PatternResult struct {
	Pattern string `json:"pattern"`
	Found   bool   `json:"found"`
}

type StepResult struct {
	Name     string          `json:"name"`
	Command  string          `json:"command"`
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr"`
	ExitCode int             `json:"exit_code"`
	Duration time.Duration   `json:"duration_ns"`
	TimedOut bool            `json:"timed_out,omitempty"`
	Expect   []PatternResult `json:"expect,omitempty"`
	Reject   []PatternResult `json:"reject,omitempty"`
}

type TestResult struct {
	Case      *testcase.TestCase `json:"case"`
	Steps     []StepResult       `json:"steps"`
	Duration  time.Duration      `json:"duration_ns"`
	Logs      string             `json:"logs"`
	LogSource string             `json:"log_source"`
	LogPath   string             `json:"log_path,omitempty"`
}

// CombinedOutput is every step's stdout and stderr followed by the extracted
// log slice. It is what the global error patterns are matched against.
func (r *TestResult) CombinedOutput() string {
	var b strings.Builder
	for _, s := range r.Steps {
		b.WriteString(s.Stdout)
		b.WriteByte('\n')
		b.WriteString(s.Stderr)
		b.WriteByte('\n')
	}
	if r.LogSource != LogsFromTranscript {
		b.WriteString(r.Logs)
	}
	return b.String()
}

// Transcript synthesizes a log from captured step output, used when no
// session log slice is available.
func Transcript(steps []StepResult) string {
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "--- step %d: %s (exit code %d, %s)\n", i+1, s.Name, s.ExitCode, s.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "$ %s\n", s.Command)
		writeBlock(&b, s.Stdout)
		for _, line := range splitLines(s.Stderr) {
			fmt.Fprintf(&b, "[stderr] %s\n", line)
		}
	}
	return b.String()
}

func writeBlock(b *strings.Builder, s string) {
	for _, line := range splitLines(s) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Judgment is one judge's verdict on one test.
type Judgment struct {
	TestID   string `json:"test_id"`
	Judge    string `json:"judge"`
	Pass     bool   `json:"pass"`
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Report pairs a test result with both judgments. Pass is the AND of the two.
type Report struct {
	Result        *TestResult `json:"result"`
	Deterministic Judgment    `json:"deterministic"`
	Semantic      Judgment    `json:"semantic"`
	Pass          bool        `json:"pass"`
	Reason        string      `json:"reason"`
	Evidence      string      `json:"evidence,omitempty"`
}

type Counts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

type Totals struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

type GitInfo struct {
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

type Environment struct {
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Arch         string   `json:"arch"`
	GoVersion    string   `json:"go_version"`
	WorkDir      string   `json:"work_dir"`
	Git          *GitInfo `json:"git,omitempty"`
	LogSource    string   `json:"log_source"`
	LogMode      string   `json:"log_mode"`
	JudgeModel   string   `json:"judge_model,omitempty"`
	SemanticMode string   `json:"semantic_mode"`
}

// Semantic judge modes recorded in the summary.
const (
	SemanticLive     = "live"
	SemanticDegraded = "degraded"
	SemanticSkipped  = "skipped"
)

// Summary is the aggregate record of one run.
type Summary struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Duration      time.Duration `json:"duration_ns"`
	Environment   Environment   `json:"environment"`
	Totals        Totals        `json:"totals"`
	Deterministic Counts        `json:"deterministic"`
	Semantic      Counts        `json:"semantic"`
	Order         []string      `json:"order"`
	AutoIncluded  []string      `json:"auto_included,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// Passed reports whether every test in the run passed.
func (s *Summary) Passed() bool {
	return s.Totals.Failed == 0
}

// Summarize counts reports per judge and overall.
func Summarize(reports []*Report) (Totals, Counts, Counts) {
	var (
		totals   Totals
		det, sem Counts
	)
	for _, r := range reports {
		totals.Total++
		if r.Pass {
			totals.Passed++
		} else {
			totals.Failed++
		}
		count(&det, r.Deterministic.Pass)
		count(&sem, r.Semantic.Pass)
	}
	return totals, det, sem
}

func count(c *Counts, pass bool) {
	if pass {
		c.Passed++
	} else {
		c.Failed++
	}
}
