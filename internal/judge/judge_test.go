package judge_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/verdict/internal/config"
	"github.com/signalnine/verdict/internal/judge"
	"github.com/signalnine/verdict/internal/result"
	"github.com/signalnine/verdict/internal/testcase"
)

func newDeterministic(t *testing.T) *judge.Deterministic {
	t.Helper()
	d, err := judge.NewDeterministic(config.DefaultErrorPatterns, config.DefaultExclusionPatterns)
	require.NoError(t, err)
	return d
}

func testResult(id string, steps ...result.StepResult) *result.TestResult {
	return &result.TestResult{
		Case:      &testcase.TestCase{ID: id, Name: id, Suite: "smoke", Criteria: "greets the user"},
		Steps:     steps,
		Logs:      result.Transcript(steps),
		LogSource: result.LogsFromTranscript,
	}
}

func TestDeterministic(t *testing.T) {
	tests := []struct {
		name     string
		result   *result.TestResult
		pass     bool
		reasons  []string
		evidence string
	}{
		{
			name: "echo hello passes",
			result: testResult("TC-1", result.StepResult{
				Name: "say", Command: "echo hello", Stdout: "hello\n",
				Expect: []result.PatternResult{{Pattern: "hello", Found: true}},
			}),
			pass:    true,
			reasons: []string{"exit code 0, patterns matched, no errors"},
		},
		{
			name:     "non-zero exit",
			result:   testResult("TC-2", result.StepResult{Name: "boom", ExitCode: 2, Stderr: "\nbad input\n"}),
			reasons:  []string{`step "boom" exited with code 2`},
			evidence: "bad input",
		},
		{
			name: "missing expect and found reject are both reported",
			result: testResult("TC-3", result.StepResult{
				Name: "s", Stdout: "status: degraded\n",
				Expect: []result.PatternResult{{Pattern: "healthy", Found: false}},
				Reject: []result.PatternResult{{Pattern: "degraded", Found: true}},
			}),
			reasons: []string{
				`step "s": expected pattern "healthy" not found`,
				`step "s": rejected pattern "degraded" found`,
			},
			evidence: "status: degraded",
		},
		{
			name:     "panic in output fails despite exit 0",
			result:   testResult("TC-4", result.StepResult{Name: "s", Stdout: "ok\ngoroutine 1: PANIC: nil map\n"}),
			reasons:  []string{`error pattern "panic" found in logs`},
			evidence: "goroutine 1: PANIC: nil map",
		},
		{
			name:   "excluded error does not fail",
			result: testResult("TC-5", result.StepResult{Name: "s", Stdout: "got expected validation error\n"}),
			pass:   true,
		},
		{
			name:   "exclusion does not suppress other patterns",
			result: testResult("TC-6", result.StepResult{Name: "s", Stdout: "error was handled\nsegmentation fault\n"}),
			reasons: []string{
				`error pattern "segmentation fault" found in logs`,
			},
			evidence: "segmentation fault",
		},
	}
	d := newDeterministic(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Judge(context.Background(), []*result.TestResult{tt.result})
			require.Len(t, got, 1)
			j := got[0]
			assert.Equal(t, tt.result.Case.ID, j.TestID)
			assert.Equal(t, result.JudgeDeterministic, j.Judge)
			assert.Equal(t, tt.pass, j.Pass, j.Reason)
			for _, r := range tt.reasons {
				assert.Contains(t, j.Reason, r)
			}
			assert.Equal(t, tt.evidence, j.Evidence)
		})
	}
}

func TestDeterministicCollectsAllViolations(t *testing.T) {
	r := testResult("TC-1",
		result.StepResult{Name: "a", ExitCode: 1},
		result.StepResult{Name: "b", ExitCode: 124, Stderr: "[verdict] step timed out after 1s (limit 1s)\n"},
	)
	j := newDeterministic(t).Judge(context.Background(), []*result.TestResult{r})[0]
	assert.False(t, j.Pass)
	assert.Equal(t, `step "a" exited with code 1; step "b" exited with code 124`, j.Reason)
}

func TestDeterministicChecksSessionLogs(t *testing.T) {
	r := testResult("TC-1", result.StepResult{Name: "s", Stdout: "fine\n"})
	r.LogSource = result.LogsFromSession
	r.Logs = "api | out of memory: killed process 42\n"
	j := newDeterministic(t).Judge(context.Background(), []*result.TestResult{r})[0]
	assert.False(t, j.Pass)
	assert.Contains(t, j.Reason, "out of memory")
	assert.Equal(t, "api | out of memory: killed process 42", j.Evidence)
}

func TestNewDeterministicBadPattern(t *testing.T) {
	_, err := judge.NewDeterministic([]string{"("}, nil)
	assert.Error(t, err)
}

func TestCombine(t *testing.T) {
	res := testResult("TC-1")
	pass := func(judgeName string) result.Judgment {
		return result.Judgment{TestID: "TC-1", Judge: judgeName, Pass: true, Reason: "fine", Evidence: "e-" + judgeName}
	}
	failJ := func(judgeName string) result.Judgment {
		return result.Judgment{TestID: "TC-1", Judge: judgeName, Reason: "bad", Evidence: "e-" + judgeName}
	}

	tests := []struct {
		name     string
		det, sem result.Judgment
		pass     bool
		reason   string
		evidence string
	}{
		{"both pass", pass("d"), pass("s"), true, "both judges passed", ""},
		{"deterministic fails", failJ("d"), pass("s"), false, "deterministic: bad | semantic: fine", "e-d"},
		{"semantic fails", pass("d"), failJ("s"), false, "deterministic: fine | semantic: bad", "e-s"},
		{"both fail", failJ("d"), failJ("s"), false, "deterministic: bad | semantic: bad", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := judge.Combine(res, tt.det, tt.sem)
			assert.Equal(t, tt.pass, r.Pass)
			assert.Equal(t, tt.det.Pass && tt.sem.Pass, r.Pass)
			assert.Equal(t, tt.reason, r.Reason)
			assert.Equal(t, tt.evidence, r.Evidence)
			assert.Same(t, res, r.Result)
		})
	}
}

func TestSubstitute(t *testing.T) {
	det := []result.Judgment{
		{TestID: "A", Judge: result.JudgeDeterministic, Pass: true, Reason: "exit code 0, patterns matched, no errors"},
		{TestID: "B", Judge: result.JudgeDeterministic, Reason: "step \"x\" exited with code 1", Evidence: "boom"},
	}
	sem := judge.Substitute(det, judge.DegradedPrefix)
	require.Len(t, sem, 2)
	for i := range sem {
		assert.Equal(t, det[i].TestID, sem[i].TestID)
		assert.Equal(t, det[i].Pass, sem[i].Pass)
		assert.Equal(t, result.JudgeSemantic, sem[i].Judge)
		assert.True(t, sem[i].Degraded)
		assert.True(t, strings.HasPrefix(sem[i].Reason, "degraded: semantic service unavailable, using deterministic verdict"))
	}
	assert.Equal(t, "boom", sem[1].Evidence)
}

// fakeGenerator answers prompts through respond and records calls.
type fakeGenerator struct {
	healthErr error
	unloadErr error
	respond   func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
	unloads int
}

func (f *fakeGenerator) Health(context.Context, time.Duration) error { return f.healthErr }

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.respond(prompt)
}

func (f *fakeGenerator) Unload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	return f.unloadErr
}

func newSemantic(gen judge.Generator, batch int) *judge.Semantic {
	return judge.NewSemantic(gen, judge.SemanticOpts{BatchSize: batch, MaxLogChars: 1000, DefaultTimeout: 30 * time.Second}, zerolog.Nop())
}

func ids(n int) []*result.TestResult {
	out := make([]*result.TestResult, n)
	for i := range out {
		out[i] = testResult(string(rune('A' + i)))
	}
	return out
}

func TestSemanticBatches(t *testing.T) {
	gen := &fakeGenerator{respond: func(prompt string) (string, error) {
		var parts []string
		for _, id := range []string{"A", "B", "C", "D", "E", "F", "G"} {
			if strings.Contains(prompt, "=== TEST "+id+":") {
				parts = append(parts, `{"testId":"`+id+`","pass":true,"reason":"looks right"}`)
			}
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	}}
	results := ids(7)
	got := newSemantic(gen, 3).Judge(context.Background(), results)

	require.Len(t, got, 7)
	assert.Len(t, gen.prompts, 3)
	assert.Equal(t, 1, gen.unloads)
	for i, j := range got {
		assert.Equal(t, results[i].Case.ID, j.TestID)
		assert.True(t, j.Pass)
		assert.Equal(t, "looks right", j.Reason)
	}
}

func TestSemanticMissingID(t *testing.T) {
	gen := &fakeGenerator{respond: func(string) (string, error) {
		return "Here you go:\n```json\n[{\"testId\":\"A\",\"pass\":true,\"reason\":\"ok\"}]\n```", nil
	}}
	got := newSemantic(gen, 5).Judge(context.Background(), ids(2))
	assert.True(t, got[0].Pass)
	assert.False(t, got[1].Pass)
	assert.Equal(t, "no judgment provided", got[1].Reason)
}

func TestSemanticBatchFailure(t *testing.T) {
	calls := 0
	gen := &fakeGenerator{respond: func(string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset")
		}
		return `[{"testId":"C","pass":false,"reason":"no greeting","evidence":"bye"}]`, nil
	}}
	got := newSemantic(gen, 2).Judge(context.Background(), ids(3))

	require.Len(t, got, 3)
	for _, j := range got[:2] {
		assert.False(t, j.Pass)
		assert.Contains(t, j.Reason, "connection reset")
	}
	assert.False(t, got[2].Pass)
	assert.Equal(t, "no greeting", got[2].Reason)
	assert.Equal(t, "bye", got[2].Evidence)
}

func TestSemanticMalformedResponse(t *testing.T) {
	gen := &fakeGenerator{respond: func(string) (string, error) { return "I cannot judge this.", nil }}
	got := newSemantic(gen, 5).Judge(context.Background(), ids(2))
	for _, j := range got {
		assert.False(t, j.Pass)
		assert.Contains(t, j.Reason, "response unusable")
	}
}

func TestSemanticUnavailable(t *testing.T) {
	gen := &fakeGenerator{healthErr: errors.New("connection refused")}
	got := newSemantic(gen, 5).Judge(context.Background(), ids(3))
	require.Len(t, got, 3)
	for _, j := range got {
		assert.False(t, j.Pass)
		assert.Equal(t, judge.UnavailableReason, j.Reason)
	}
	assert.Empty(t, gen.prompts)
}

func TestSemanticUnloadFailureIsNotFatal(t *testing.T) {
	gen := &fakeGenerator{
		unloadErr: errors.New("nope"),
		respond:   func(string) (string, error) { return `[{"testId":"A","pass":true}]`, nil },
	}
	got := newSemantic(gen, 5).Judge(context.Background(), ids(1))
	assert.True(t, got[0].Pass)
	assert.Equal(t, "criteria satisfied", got[0].Reason)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []judge.Verdict
		wantErr bool
	}{
		{
			name:  "clean array",
			input: `[{"testId":"A","pass":true,"reason":"r","evidence":"e"}]`,
			want:  []judge.Verdict{{TestID: "A", Pass: true, Reason: "r", Evidence: "e"}},
		},
		{
			name:  "fences",
			input: "```json\n[{\"testId\":\"A\",\"pass\":false}]\n```",
			want:  []judge.Verdict{{TestID: "A"}},
		},
		{
			name:  "preamble and trailer",
			input: "Sure! Here are the verdicts:\n[{\"testId\":\"A\",\"pass\":true}]\nLet me know.",
			want:  []judge.Verdict{{TestID: "A", Pass: true}},
		},
		{
			name:  "wrapped in object",
			input: `{"results":[{"testId":"A","pass":true},{"testId":"B","pass":false}]}`,
			want:  []judge.Verdict{{TestID: "A", Pass: true}, {TestID: "B"}},
		},
		{
			name:  "single object",
			input: `{"testId":"A","pass":true,"reason":"ok"}`,
			want:  []judge.Verdict{{TestID: "A", Pass: true, Reason: "ok"}},
		},
		{
			name:  "single object with brackets in evidence",
			input: `{"testId":"TC-1","pass":true,"reason":"ok","evidence":"queue drained: []"}`,
			want:  []judge.Verdict{{TestID: "TC-1", Pass: true, Reason: "ok", Evidence: "queue drained: []"}},
		},
		{
			name:  "bracketed prose before array",
			input: "Verdicts [2 tests]:\n[{\"testId\":\"A\",\"pass\":true},{\"testId\":\"B\",\"pass\":false}]\nDone [ok].",
			want:  []judge.Verdict{{TestID: "A", Pass: true}, {TestID: "B"}},
		},
		{
			name:  "array with brackets in reason",
			input: `[{"testId":"A","pass":false,"reason":"saw [error] twice"}]`,
			want:  []judge.Verdict{{TestID: "A", Reason: "saw [error] twice"}},
		},
		{name: "no json", input: "I cannot evaluate this.", wantErr: true},
		{name: "broken json", input: `[{"testId":"A",`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := judge.ParseResponse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	r := testResult("TC-1", result.StepResult{Name: "say", Command: "echo hello", Stdout: "hello\n", Duration: 5 * time.Millisecond})
	r.Duration = 7 * time.Millisecond
	r.Logs = strings.Repeat("x", 5000)
	prompt := judge.BuildPrompt([]*result.TestResult{r}, 1000, 30*time.Second)

	assert.Contains(t, prompt, "=== TEST TC-1: TC-1 (suite smoke) ===")
	assert.Contains(t, prompt, "greets the user")
	assert.Contains(t, prompt, "- say: `echo hello` (exit code 0, 5ms)")
	assert.Contains(t, prompt, "Total duration 7ms of 30s allowed.")
	assert.Contains(t, prompt, "[log truncated from 5000 to 1000 chars]")
	assert.Contains(t, prompt, `"testId"`)
	assert.Less(t, len(prompt), 3000)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", judge.Truncate("short", 100))
	got := judge.Truncate("aaaaabbbbb", 4)
	assert.True(t, strings.HasPrefix(got, "aa\n"))
	assert.True(t, strings.HasSuffix(got, "\nbb"))
	assert.Contains(t, got, "truncated from 10 to 4 chars")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) + strings.Repeat("ü", 10)
	got := judge.Truncate(s, 11)
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Contains(t, got, "[log truncated from 40 to 11 chars]")
}
