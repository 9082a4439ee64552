// Package testcase holds the declarative test definitions and loads them from
// YAML files, one test case per file.
package testcase

import (
	"regexp"
	"time"
)

const DefaultPriority = 1

const patternFlags = "(?im)"

// Step is a single shell command within a test case.
type Step struct {
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Timeout time.Duration `json:"timeout,omitempty"`
	Expect  []string      `json:"expect_patterns,omitempty"`
	Reject  []string      `json:"reject_patterns,omitempty"`
}

// TestCase is immutable for the duration of a run. ID is the only identity
// key used across the system.
type TestCase struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Suite        string        `json:"suite"`
	Priority     int           `json:"priority"`
	Timeout      time.Duration `json:"timeout"`
	Steps        []Step        `json:"steps"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Criteria     string        `json:"criteria,omitempty"`
	Source       string        `json:"source,omitempty"`
}

// StepTimeout returns the step's own timeout, else the test timeout, else
// fallback.
func (tc *TestCase) StepTimeout(i int, fallback time.Duration) time.Duration {
	if i >= 0 && i < len(tc.Steps) && tc.Steps[i].Timeout > 0 {
		return tc.Steps[i].Timeout
	}
	if tc.Timeout > 0 {
		return tc.Timeout
	}
	return fallback
}

// TotalTimeout is the sum of all step timeouts, used to put a test's duration
// in perspective for the semantic judge. Without steps it is the test timeout,
// else fallback.
func (tc *TestCase) TotalTimeout(fallback time.Duration) time.Duration {
	if len(tc.Steps) == 0 {
		return tc.StepTimeout(-1, fallback)
	}
	var total time.Duration
	for i := range tc.Steps {
		total += tc.StepTimeout(i, fallback)
	}
	return total
}

// CompilePattern compiles an expect/reject pattern. Matching is always case
// insensitive, and ^ and $ match at line boundaries.
func CompilePattern(p string) (*regexp.Regexp, error) {
	return regexp.Compile(patternFlags + p)
}
