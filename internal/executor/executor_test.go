package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/verdict/internal/executor"
	"github.com/signalnine/verdict/internal/result"
	"github.com/signalnine/verdict/internal/testcase"
)

func newExecutor(t *testing.T) *executor.Executor {
	return &executor.Executor{
		Shell:          "sh",
		Dir:            t.TempDir(),
		DefaultTimeout: 5 * time.Second,
		KillGrace:      200 * time.Millisecond,
		Log:            zerolog.Nop(),
	}
}

func TestRunStep(t *testing.T) {
	tests := []struct {
		name     string
		step     testcase.Step
		exitCode int
		stdout   string
		stderr   string
		expect   []result.PatternResult
		reject   []result.PatternResult
	}{
		{
			name:     "success",
			step:     testcase.Step{Name: "s", Command: "echo hello", Expect: []string{"HELLO"}},
			exitCode: 0,
			stdout:   "hello\n",
			expect:   []result.PatternResult{{Pattern: "HELLO", Found: true}},
		},
		{
			name:     "non-zero exit",
			step:     testcase.Step{Name: "s", Command: "echo oops >&2; exit 3"},
			exitCode: 3,
			stderr:   "oops\n",
		},
		{
			name:     "patterns see stderr",
			step:     testcase.Step{Name: "s", Command: "echo ready; echo 'warning: disk' >&2", Expect: []string{"ready", "missing"}, Reject: []string{"warning"}},
			stdout:   "ready\n",
			stderr:   "warning: disk\n",
			expect:   []result.PatternResult{{Pattern: "ready", Found: true}, {Pattern: "missing", Found: false}},
			reject:   []result.PatternResult{{Pattern: "warning", Found: true}},
		},
		{
			name:   "ansi stripped",
			step:   testcase.Step{Name: "s", Command: `printf '\033[31mred\033[0m\n'`, Expect: []string{`\[31m`}},
			stdout: "red\n",
			expect: []result.PatternResult{{Pattern: `\[31m`, Found: false}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := newExecutor(t).RunStep(context.Background(), tt.step, 5*time.Second)
			assert.Equal(t, tt.exitCode, sr.ExitCode)
			assert.Equal(t, tt.stdout, sr.Stdout)
			assert.Equal(t, tt.stderr, sr.Stderr)
			assert.Equal(t, tt.expect, sr.Expect)
			assert.Equal(t, tt.reject, sr.Reject)
			assert.False(t, sr.TimedOut)
		})
	}
}

func TestRunStepMultilinePatternAnchors(t *testing.T) {
	step := testcase.Step{Name: "s", Command: "echo red", Expect: []string{"(?m)^red$"}}
	sr := newExecutor(t).RunStep(context.Background(), step, time.Second)
	assert.True(t, sr.Expect[0].Found)
}

func TestRunStepTimeout(t *testing.T) {
	e := newExecutor(t)
	step := testcase.Step{Name: "hang", Command: "echo started; sleep 10"}

	start := time.Now()
	sr := e.RunStep(context.Background(), step, 300*time.Millisecond)
	elapsed := time.Since(start)

	assert.True(t, sr.TimedOut)
	assert.Equal(t, executor.ExitTimedOut, sr.ExitCode)
	assert.Contains(t, sr.Stderr, "[verdict] step timed out after")
	assert.Contains(t, sr.Stderr, "(limit 300ms)")
	assert.Equal(t, "started\n", sr.Stdout)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRunStepTimeoutIgnoringSIGTERM(t *testing.T) {
	e := newExecutor(t)
	step := testcase.Step{Name: "stubborn", Command: "trap '' TERM; sleep 10"}

	start := time.Now()
	sr := e.RunStep(context.Background(), step, 200*time.Millisecond)

	assert.True(t, sr.TimedOut)
	assert.Equal(t, executor.ExitTimedOut, sr.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunStepStartFailure(t *testing.T) {
	e := newExecutor(t)
	e.Shell = "/nonexistent/shell"
	step := testcase.Step{
		Name:    "s",
		Command: "true",
		Expect:  []string{"x"},
		Reject:  []string{"fork/exec", "start"},
	}
	sr := e.RunStep(context.Background(), step, time.Second)
	assert.Equal(t, executor.ExitStartFailed, sr.ExitCode)
	assert.Contains(t, sr.Stderr, "failed to start")
	assert.Equal(t, []result.PatternResult{{Pattern: "x"}}, sr.Expect)
	assert.Equal(t, []result.PatternResult{{Pattern: "fork/exec"}, {Pattern: "start"}}, sr.Reject)
}

func TestRunStepTimeoutMarkerNotMatched(t *testing.T) {
	e := newExecutor(t)
	step := testcase.Step{Name: "slow", Command: "sleep 5", Reject: []string{"timed out"}}
	sr := e.RunStep(context.Background(), step, 200*time.Millisecond)
	assert.True(t, sr.TimedOut)
	assert.Contains(t, sr.Stderr, "[verdict] step timed out")
	assert.Equal(t, []result.PatternResult{{Pattern: "timed out"}}, sr.Reject)
}

func TestRunStepUsesDirAndEnv(t *testing.T) {
	e := newExecutor(t)
	e.Env = []string{"GREETING=bonjour"}
	require.NoError(t, os.WriteFile(filepath.Join(e.Dir, "marker.txt"), []byte("here"), 0o644))

	sr := e.RunStep(context.Background(), testcase.Step{Name: "s", Command: "cat marker.txt; echo; echo $GREETING"}, time.Second)
	assert.Equal(t, 0, sr.ExitCode)
	assert.Equal(t, "here\nbonjour\n", sr.Stdout)
}

func TestRunTestDoesNotShortCircuit(t *testing.T) {
	tc := &testcase.TestCase{
		ID: "TC-1",
		Steps: []testcase.Step{
			{Name: "fail", Command: "exit 1"},
			{Name: "hang", Command: "sleep 10", Timeout: 200 * time.Millisecond},
			{Name: "ok", Command: "echo done"},
		},
	}
	steps := newExecutor(t).RunTest(context.Background(), tc)
	require.Len(t, steps, 3)
	assert.Equal(t, 1, steps[0].ExitCode)
	assert.Equal(t, executor.ExitTimedOut, steps[1].ExitCode)
	assert.Equal(t, 0, steps[2].ExitCode)
	assert.Equal(t, "done\n", steps[2].Stdout)
}

func TestRunTestTimeoutFallsBackToTestTimeout(t *testing.T) {
	tc := &testcase.TestCase{
		ID:      "TC-1",
		Timeout: 200 * time.Millisecond,
		Steps:   []testcase.Step{{Name: "hang", Command: "sleep 10"}},
	}
	steps := newExecutor(t).RunTest(context.Background(), tc)
	assert.True(t, steps[0].TimedOut)
	assert.Contains(t, steps[0].Stderr, "(limit 200ms)")
}
