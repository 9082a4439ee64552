package judge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/signalnine/verdict/internal/result"
	"github.com/signalnine/verdict/internal/testcase"
)

const deterministicPass = "exit code 0, patterns matched, no errors"

// Deterministic judges on exit codes, declared patterns and the configured
// global error patterns.
type Deterministic struct {
	errors     []*regexp.Regexp
	names      []string
	exclusions []*regexp.Regexp
}

func NewDeterministic(errorPatterns, exclusions []string) (*Deterministic, error) {
	d := &Deterministic{}
	for _, p := range errorPatterns {
		re, err := testcase.CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("error pattern %q: %w", p, err)
		}
		d.errors = append(d.errors, re)
		d.names = append(d.names, p)
	}
	for _, p := range exclusions {
		re, err := testcase.CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("exclusion pattern %q: %w", p, err)
		}
		d.exclusions = append(d.exclusions, re)
	}
	return d, nil
}

func (d *Deterministic) Name() string {
	return result.JudgeDeterministic
}

func (d *Deterministic) Judge(_ context.Context, results []*result.TestResult) []result.Judgment {
	out := make([]result.Judgment, len(results))
	for i, r := range results {
		out[i] = d.judgeOne(r)
	}
	return out
}

func (d *Deterministic) judgeOne(r *result.TestResult) result.Judgment {
	var (
		violations []string
		evidence   string
	)
	note := func(ev string) {
		if evidence == "" {
			evidence = ev
		}
	}

	for _, s := range r.Steps {
		if s.ExitCode != 0 {
			violations = append(violations, fmt.Sprintf("step %q exited with code %d", s.Name, s.ExitCode))
			note(firstLine(s.Stderr, s.Stdout))
		}
		for _, p := range s.Expect {
			if !p.Found {
				violations = append(violations, fmt.Sprintf("step %q: expected pattern %q not found", s.Name, p.Pattern))
			}
		}
		for _, p := range s.Reject {
			if p.Found {
				violations = append(violations, fmt.Sprintf("step %q: rejected pattern %q found", s.Name, p.Pattern))
				if re, err := testcase.CompilePattern(p.Pattern); err == nil {
					note(matchingLine(re, s.Stdout+"\n"+s.Stderr))
				}
			}
		}
	}

	logs := r.CombinedOutput()
	for i, re := range d.errors {
		if !re.MatchString(logs) || d.excluded(re, logs) {
			continue
		}
		violations = append(violations, fmt.Sprintf("error pattern %q found in logs", d.names[i]))
		note(matchingLine(re, logs))
	}

	j := result.Judgment{TestID: r.Case.ID, Judge: result.JudgeDeterministic}
	if len(violations) == 0 {
		j.Pass = true
		j.Reason = deterministicPass
		return j
	}
	j.Reason = strings.Join(violations, "; ")
	j.Evidence = evidence
	return j
}

// excluded reports whether some exclusion pattern matches logs with a match
// that itself contains the error pattern, so "error.*handled" suppresses
// "error" but not "panic".
func (d *Deterministic) excluded(errRe *regexp.Regexp, logs string) bool {
	for _, ex := range d.exclusions {
		for _, m := range ex.FindAllString(logs, -1) {
			if errRe.MatchString(m) {
				return true
			}
		}
	}
	return false
}

func matchingLine(re *regexp.Regexp, text string) string {
	for _, line := range strings.Split(text, "\n") {
		if re.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func firstLine(texts ...string) string {
	for _, t := range texts {
		for _, line := range strings.Split(t, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				return s
			}
		}
	}
	return ""
}
