// Package judge decides whether test results pass. Two independent judges
// exist; a test passes only when both agree it does.
package judge

import (
	"context"

	"github.com/signalnine/verdict/internal/result"
)

// Judge produces exactly one judgment per result, in input order. It never
// returns an error; failures surface as failing judgments.
type Judge interface {
	Name() string
	Judge(ctx context.Context, results []*result.TestResult) []result.Judgment
}

// Combine pairs each result with its two judgments. Pass is the logical AND.
func Combine(res *result.TestResult, det, sem result.Judgment) *result.Report {
	r := &result.Report{
		Result:        res,
		Deterministic: det,
		Semantic:      sem,
		Pass:          det.Pass && sem.Pass,
	}
	switch {
	case r.Pass:
		r.Reason = "both judges passed"
	default:
		r.Reason = "deterministic: " + det.Reason + " | semantic: " + sem.Reason
		if det.Pass != sem.Pass {
			if det.Pass {
				r.Evidence = sem.Evidence
			} else {
				r.Evidence = det.Evidence
			}
		}
	}
	return r
}

// CombineAll combines parallel slices of results and judgments.
func CombineAll(results []*result.TestResult, det, sem []result.Judgment) []*result.Report {
	reports := make([]*result.Report, len(results))
	for i, res := range results {
		reports[i] = Combine(res, det[i], sem[i])
	}
	return reports
}

// Reason prefixes of substituted semantic judgments.
const (
	DegradedPrefix = "degraded: semantic service unavailable, using deterministic verdict"
	SkippedPrefix  = "skipped: semantic judge disabled, using deterministic verdict"
)

// Substitute stands in for the semantic judge when it cannot or should not
// run. Each deterministic verdict is copied into a semantic judgment marked
// degraded, its reason prefixed with prefix.
func Substitute(det []result.Judgment, prefix string) []result.Judgment {
	out := make([]result.Judgment, len(det))
	for i, j := range det {
		out[i] = result.Judgment{
			TestID:   j.TestID,
			Judge:    result.JudgeSemantic,
			Pass:     j.Pass,
			Reason:   prefix + " (" + j.Reason + ")",
			Evidence: j.Evidence,
			Degraded: true,
		}
	}
	return out
}
