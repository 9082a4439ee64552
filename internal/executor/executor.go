// Package executor runs the shell steps of a test case and evaluates their
// expect and reject patterns.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/rs/zerolog"

	"github.com/signalnine/verdict/internal/result"
	"github.com/signalnine/verdict/internal/testcase"
)

const (
	ExitTimedOut    = 124
	ExitStartFailed = 127
)

type Executor struct {
	Shell          string
	Dir            string
	Env            []string
	DefaultTimeout time.Duration
	KillGrace      time.Duration
	Log            zerolog.Logger
}

// RunTest runs every step of tc in order. A failing or timed out step does
// not stop the ones after it.
func (e *Executor) RunTest(ctx context.Context, tc *testcase.TestCase) []result.StepResult {
	steps := make([]result.StepResult, 0, len(tc.Steps))
	for i, step := range tc.Steps {
		sr := e.RunStep(ctx, step, tc.StepTimeout(i, e.DefaultTimeout))
		e.Log.Debug().
			Str("test", tc.ID).
			Str("step", step.Name).
			Int("exit_code", sr.ExitCode).
			Dur("duration", sr.Duration).
			Bool("timed_out", sr.TimedOut).
			Msg("step finished")
		steps = append(steps, sr)
	}
	return steps
}

// RunStep runs one step with the given time limit.
func (e *Executor) RunStep(ctx context.Context, step testcase.Step, limit time.Duration) result.StepResult {
	sr := result.StepResult{Name: step.Name, Command: step.Command}
	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(shell, "-c", step.Command)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = e.KillGrace + time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		sr.Duration = time.Since(start)
		sr.ExitCode = ExitStartFailed
		sr.Stderr = fmt.Sprintf("[verdict] failed to start step: %v\n", err)
		sr.Expect = unmatched(step.Expect)
		sr.Reject = unmatched(step.Reject)
		return sr
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timer := time.NewTimer(limit)
	defer timer.Stop()
	var err error
	select {
	case err = <-waitErr:
	case <-timer.C:
		sr.TimedOut = true
		err = e.terminate(cmd, waitErr)
	case <-ctx.Done():
		err = e.terminate(cmd, waitErr)
	}
	sr.Duration = time.Since(start)

	sr.Stdout = stripansi.Strip(stdout.String())
	sr.Stderr = stripansi.Strip(stderr.String())
	sr.ExitCode = exitCode(err)
	e.evaluate(&sr, step)
	switch {
	case sr.TimedOut:
		sr.ExitCode = ExitTimedOut
		sr.Stderr = fmt.Sprintf("[verdict] step timed out after %s (limit %s)\n", sr.Duration.Round(time.Millisecond), limit) + sr.Stderr
	case ctx.Err() != nil:
		sr.Stderr = fmt.Sprintf("[verdict] step interrupted: %v\n", ctx.Err()) + sr.Stderr
	}
	return sr
}

// terminate sends SIGTERM to the step's process group, then SIGKILL once the
// kill grace has passed.
func (e *Executor) terminate(cmd *exec.Cmd, waitErr <-chan error) error {
	pgid := -cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case err := <-waitErr:
		return err
	case <-time.After(e.KillGrace):
	}
	e.Log.Warn().Int("pid", cmd.Process.Pid).Msg("step ignored SIGTERM; killing")
	syscall.Kill(pgid, syscall.SIGKILL)
	return <-waitErr
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

// evaluate matches patterns against what the step itself printed, before any
// diagnostic lines are added to stderr.
func (e *Executor) evaluate(sr *result.StepResult, step testcase.Step) {
	output := sr.Stdout + "\n" + sr.Stderr
	sr.Expect = matchAll(step.Expect, output)
	sr.Reject = matchAll(step.Reject, output)
}

func unmatched(patterns []string) []result.PatternResult {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]result.PatternResult, len(patterns))
	for i, p := range patterns {
		out[i] = result.PatternResult{Pattern: p}
	}
	return out
}

func matchAll(patterns []string, output string) []result.PatternResult {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]result.PatternResult, len(patterns))
	for i, p := range patterns {
		out[i] = result.PatternResult{Pattern: p}
		re, err := testcase.CompilePattern(p)
		if err != nil {
			continue
		}
		out[i].Found = re.MatchString(output)
	}
	return out
}
