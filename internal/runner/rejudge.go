package runner

import (
	"context"
	"fmt"

	"github.com/signalnine/verdict/internal/judge"
	"github.com/signalnine/verdict/internal/result"
)

// Rejudge judges a stored run again with the current configuration, for
// example after the semantic service was down during the run. Step output
// and logs are reused as recorded; nothing is executed.
func (r *Runner) Rejudge(ctx context.Context, runDir string) (*Outcome, error) {
	summary, stored, err := result.ReadReports(runDir)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTests, runDir)
	}
	results := make([]*result.TestResult, len(stored))
	for i, rep := range stored {
		results[i] = rep.Result
	}

	warn := func(msg string) {
		r.log.Warn().Msg(msg)
		summary.Warnings = append(summary.Warnings, msg)
	}
	det, err := judge.NewDeterministic(r.cfg.Patterns.Errors, r.cfg.Patterns.Exclusions)
	if err != nil {
		return nil, fmt.Errorf("building deterministic judge: %w", err)
	}
	detJ := det.Judge(ctx, results)
	semJ, mode := r.semanticJudgments(ctx, results, detJ, false, warn)

	reports := judge.CombineAll(results, detJ, semJ)
	for _, rep := range reports {
		if err := result.WriteReport(runDir, rep); err != nil {
			return nil, err
		}
	}
	summary.Environment.SemanticMode = mode
	summary.Environment.JudgeModel = r.cfg.Judge.Model
	summary.Totals, summary.Deterministic, summary.Semantic = result.Summarize(reports)
	if err := result.WriteSummary(runDir, summary); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}
	r.log.Info().
		Int("passed", summary.Totals.Passed).
		Int("failed", summary.Totals.Failed).
		Str("semantic", mode).
		Msg("run re-judged")

	out := &Outcome{RunDir: runDir, Summary: summary, Reports: reports}
	if !summary.Passed() {
		return out, ErrTestsFailed
	}
	return out, nil
}
