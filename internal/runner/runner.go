// Package runner coordinates a run: load, resolve, execute sequentially while
// collecting logs, judge, and persist.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalnine/verdict/internal/config"
	"github.com/signalnine/verdict/internal/executor"
	"github.com/signalnine/verdict/internal/gitops"
	"github.com/signalnine/verdict/internal/judge"
	"github.com/signalnine/verdict/internal/llm"
	"github.com/signalnine/verdict/internal/logcollect"
	"github.com/signalnine/verdict/internal/metrics"
	"github.com/signalnine/verdict/internal/resolver"
	"github.com/signalnine/verdict/internal/result"
	"github.com/signalnine/verdict/internal/testcase"
)

var (
	ErrNoTests     = errors.New("no loadable test definitions")
	ErrNoMatch     = errors.New("no tests match the filter")
	ErrTestsFailed = errors.New("one or more tests failed")
)

type Options struct {
	IDs          []string
	Suites       []string
	SkipSemantic bool
	MetricsFile  string
}

// Outcome is what a completed run produced.
type Outcome struct {
	RunDir  string
	Summary *result.Summary
	Reports []*result.Report
}

type Runner struct {
	cfg *config.Config
	log zerolog.Logger

	// Source and Generator default to what cfg describes.
	Source    logcollect.Source
	Generator judge.Generator
	client    *llm.Client
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

func New(cfg *config.Config, log zerolog.Logger) *Runner {
	r := &Runner{
		cfg:     cfg,
		log:     log,
		Metrics: metrics.New(),
		Now:     time.Now,
	}
	r.Source = logcollect.FromConfig(cfg, nil)
	if !cfg.Judge.Disabled {
		r.client = llm.NewClient(cfg.Judge.BaseURL, cfg.Judge.Model, cfg.Judge.RequestTimeout)
		r.client.Temperature = cfg.Judge.Temperature
		r.client.ContextSize = cfg.Judge.ContextSize
		r.Generator = r.client
	}
	return r
}

// Run executes the selected tests. It returns ErrTestsFailed, along with the
// outcome, when any combined verdict failed.
func (r *Runner) Run(ctx context.Context, opts Options) (*Outcome, error) {
	started := r.Now()
	var warnings []string
	warn := func(msg string) {
		r.log.Warn().Msg(msg)
		warnings = append(warnings, msg)
	}

	env := r.stepEnv(warn)
	if cmd, ok := r.Source.(*logcollect.CommandSource); ok {
		cmd.Env = env
	}

	removed, err := logcollect.CleanupStale(r.cfg.LogSource.SessionDir, r.cfg.LogSource.Retention, started)
	if err != nil {
		r.log.Warn().Err(err).Msg("removing stale session logs")
	}
	if len(removed) > 0 {
		r.log.Debug().Int("count", len(removed)).Msg("removed stale session logs")
	}

	cases, loadErrs, err := testcase.LoadDir(r.cfg.TestsDir, r.cfg.Execution.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTests, err)
	}
	for _, le := range loadErrs {
		warn("skipped definition: " + le.Error())
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTests, r.cfg.TestsDir)
	}
	filtered := testcase.Filter(cases, opts.IDs, opts.Suites)
	if len(filtered) == 0 {
		return nil, ErrNoMatch
	}

	res := resolver.Resolve(filtered, cases)
	if len(res.AutoIncluded) > 0 {
		r.log.Info().Strs("tests", res.AutoIncluded).Msg("auto-included dependencies")
	}
	for _, w := range res.Warnings {
		warn(w)
	}

	runDir, err := result.CreateRunDir(r.cfg.Results.Dir, started)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := r.log.With().Str("run", runID[:8]).Logger()
	log.Info().Int("tests", len(res.Order)).Str("dir", runDir).Msg("run started")

	collected := logcollect.Start(ctx, logcollect.Options{
		Dir:        r.cfg.LogSource.SessionDir,
		StartGrace: r.cfg.LogSource.StartGrace,
		StopGrace:  r.cfg.LogSource.StopGrace,
		Now:        r.Now,
	}, r.Source, log)
	collector, haveLogs := collected.Get()
	if !haveLogs {
		if r.Source != nil {
			warn("log collector unavailable, using step transcripts: " + collected.Reason())
		}
		r.Metrics.RecordDegraded("log_collector", r.Source != nil)
	} else {
		r.Metrics.RecordDegraded("log_collector", false)
	}

	ex := &executor.Executor{
		Shell:          r.cfg.Execution.Shell,
		Dir:            r.cfg.WorkDir,
		Env:            env,
		DefaultTimeout: r.cfg.Execution.DefaultTimeout,
		KillGrace:      r.cfg.Execution.KillGrace,
		Log:            log,
	}

	results := make([]*result.TestResult, 0, len(res.Order))
	for i, tc := range res.Order {
		if ctx.Err() != nil {
			warn(fmt.Sprintf("run interrupted; %d tests not executed", len(res.Order)-i))
			break
		}
		tr := r.runTest(ctx, ex, collector, tc, runDir, log)
		results = append(results, tr)
	}

	det, err := judge.NewDeterministic(r.cfg.Patterns.Errors, r.cfg.Patterns.Exclusions)
	if err != nil {
		return nil, fmt.Errorf("building deterministic judge: %w", err)
	}
	detJ := det.Judge(ctx, results)
	semJ, semMode := r.semanticJudgments(ctx, results, detJ, opts.SkipSemantic, warn)

	if haveLogs {
		if err := collector.Stop(); err != nil {
			log.Warn().Err(err).Msg("closing session log")
		}
	}

	reports := judge.CombineAll(results, detJ, semJ)
	for _, rep := range reports {
		if err := result.WriteReport(runDir, rep); err != nil {
			warn(err.Error())
		}
	}

	finished := r.Now()
	summary := &result.Summary{
		RunID:        runID,
		StartedAt:    started,
		FinishedAt:   finished,
		Duration:     finished.Sub(started),
		Environment:  r.environment(haveLogs, semMode),
		Order:        make([]string, len(results)),
		AutoIncluded: res.AutoIncluded,
		Warnings:     warnings,
	}
	for i, tr := range results {
		summary.Order[i] = tr.Case.ID
	}
	summary.Totals, summary.Deterministic, summary.Semantic = result.Summarize(reports)
	if err := result.WriteSummary(runDir, summary); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}

	r.recordMetrics(reports, summary, opts.MetricsFile)

	log.Info().
		Int("passed", summary.Totals.Passed).
		Int("failed", summary.Totals.Failed).
		Dur("duration", summary.Duration).
		Msg("run finished")

	out := &Outcome{RunDir: runDir, Summary: summary, Reports: reports}
	if !summary.Passed() {
		return out, ErrTestsFailed
	}
	return out, nil
}

func (r *Runner) runTest(ctx context.Context, ex *executor.Executor, collector *logcollect.Collector, tc *testcase.TestCase, runDir string, log zerolog.Logger) *result.TestResult {
	log = log.With().Str("test", tc.ID).Logger()
	log.Info().Str("name", tc.Name).Msg("running test")

	start := r.Now()
	if collector != nil {
		collector.WriteStart(tc.ID, start)
	}
	steps := ex.RunTest(ctx, tc)
	end := r.Now()
	if collector != nil {
		collector.WriteEnd(tc.ID, end)
	}

	tr := &result.TestResult{Case: tc, Steps: steps, Duration: end.Sub(start)}
	if collector != nil {
		logs, err := collector.Extract(tc.ID)
		if err != nil {
			log.Warn().Err(err).Msg("extracting session logs")
		}
		tr.Logs, tr.LogSource = logs, result.LogsFromSession
	}
	if tr.Logs == "" {
		tr.Logs, tr.LogSource = result.Transcript(steps), result.LogsFromTranscript
	}
	path, err := result.WriteLog(runDir, tc.ID, tr.Logs)
	if err != nil {
		log.Warn().Err(err).Msg("writing log artifact")
	}
	tr.LogPath = path

	log.Info().Dur("duration", tr.Duration).Str("logs", tr.LogSource).Msg("test finished")
	return tr
}

// semanticJudgments runs the semantic judge, substituting deterministic
// verdicts when it is skipped, or unavailable with fallback enabled.
func (r *Runner) semanticJudgments(ctx context.Context, results []*result.TestResult, det []result.Judgment, skip bool, warn func(string)) ([]result.Judgment, string) {
	if skip || r.cfg.Judge.Disabled || r.Generator == nil {
		r.Metrics.RecordDegraded("semantic_judge", false)
		return judge.Substitute(det, judge.SkippedPrefix), result.SemanticSkipped
	}

	sem := judge.NewSemantic(r.Generator, judge.SemanticOpts{
		BatchSize:      r.cfg.Judge.BatchSize,
		MaxLogChars:    r.cfg.Judge.MaxLogChars,
		HealthTimeout:  r.cfg.Judge.HealthTimeout,
		DefaultTimeout: r.cfg.Execution.DefaultTimeout,
	}, r.log)

	err := sem.Available(ctx)
	if err != nil && r.cfg.Judge.ServeCommand != "" && r.client != nil {
		r.log.Info().Str("command", r.cfg.Judge.ServeCommand).Msg("starting judge service")
		srv, serveErr := llm.Serve(ctx, r.client, llm.ServeOpts{
			Command: r.cfg.Judge.ServeCommand,
			LogDir:  r.cfg.Judge.ServeLogDir,
			Timeout: r.cfg.Judge.ServeTimeout,
		})
		if serveErr != nil {
			r.log.Warn().Err(serveErr).Msg("judge service did not start")
		} else {
			defer srv.Stop()
			err = nil
		}
	}
	if err != nil {
		r.Metrics.RecordDegraded("semantic_judge", true)
		if r.cfg.Judge.FallbackToDeterministic {
			warn("semantic judge unavailable, using deterministic verdicts: " + err.Error())
			return judge.Substitute(det, judge.DegradedPrefix), result.SemanticDegraded
		}
		warn("semantic judge unavailable: " + err.Error())
		return sem.Judge(ctx, results), result.SemanticDegraded
	}
	r.Metrics.RecordDegraded("semantic_judge", false)
	return sem.Judge(ctx, results), result.SemanticLive
}

func (r *Runner) stepEnv(warn func(string)) []string {
	if r.cfg.EnvFile == "" {
		return nil
	}
	env, err := config.ParseEnvFile(r.cfg.EnvFile)
	if err != nil {
		warn(fmt.Sprintf("ignoring env file: %v", err))
		return nil
	}
	return env
}

func (r *Runner) environment(haveLogs bool, semMode string) result.Environment {
	env := result.Environment{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		GoVersion:    runtime.Version(),
		LogSource:    r.cfg.LogSource.Type,
		LogMode:      result.LogsFromTranscript,
		SemanticMode: semMode,
	}
	if haveLogs {
		env.LogMode = result.LogsFromSession
	}
	if semMode != result.SemanticSkipped {
		env.JudgeModel = r.cfg.Judge.Model
	}
	env.Hostname, _ = os.Hostname()
	if dir, err := filepath.Abs(r.cfg.WorkDir); err == nil {
		env.WorkDir = dir
	}
	if info, err := gitops.Describe(env.WorkDir); err == nil {
		env.Git = info
	} else {
		r.log.Debug().Err(err).Msg("no git info for work dir")
	}
	return env
}

func (r *Runner) recordMetrics(reports []*result.Report, summary *result.Summary, override string) {
	for _, rep := range reports {
		timeouts := 0
		for _, s := range rep.Result.Steps {
			if s.TimedOut {
				timeouts++
			}
		}
		r.Metrics.RecordTest(rep.Result.Case.Suite, rep.Pass, rep.Result.Duration, timeouts)
		r.Metrics.RecordJudgment(result.JudgeDeterministic, rep.Deterministic.Pass)
		r.Metrics.RecordJudgment(result.JudgeSemantic, rep.Semantic.Pass)
	}
	r.Metrics.RecordRun(summary.Passed(), summary.Duration)

	path := r.cfg.Results.MetricsFile
	if override != "" {
		path = override
	}
	if path == "" {
		return
	}
	if err := r.Metrics.WriteTextfile(path); err != nil {
		r.log.Warn().Err(err).Msg("exporting metrics")
	}
}
