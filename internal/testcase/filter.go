package testcase

import "strings"

// Filter keeps the cases matching every non-empty filter: the id must be one of
// ids and the suite must match one of suites. Order is preserved.
func Filter(cases []*TestCase, ids, suites []string) []*TestCase {
	if len(ids) == 0 && len(suites) == 0 {
		return cases
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var filtered []*TestCase
	for _, tc := range cases {
		if len(ids) > 0 && !wanted[tc.ID] {
			continue
		}
		if len(suites) > 0 && !matchAnySuite(tc.Suite, suites) {
			continue
		}
		filtered = append(filtered, tc)
	}
	return filtered
}

// Index maps ids to cases.
func Index(cases []*TestCase) map[string]*TestCase {
	idx := make(map[string]*TestCase, len(cases))
	for _, tc := range cases {
		idx[tc.ID] = tc
	}
	return idx
}

func matchAnySuite(suite string, patterns []string) bool {
	for _, p := range patterns {
		if MatchSuite(suite, p) {
			return true
		}
	}
	return false
}

// MatchSuite matches a suite exactly, or by prefix for patterns ending in "/*"
// ("e2e/*" matches "e2e/checkout").
func MatchSuite(suite, pattern string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(suite, prefix+"/")
	}
	return suite == pattern
}
