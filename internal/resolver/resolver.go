// Package resolver computes which tests a run needs and the order they run in.
package resolver

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/signalnine/verdict/internal/testcase"
)

// Resolution is the outcome of Resolve. Order contains every requested test
// and the transitive closure of its dependencies. AutoIncluded lists the ids
// that are only present because something depends on them.
type Resolution struct {
	Order        []*testcase.TestCase
	AutoIncluded []string
	Warnings     []string
}

// IDs returns the resolved execution order as ids.
func (r *Resolution) IDs() []string {
	ids := make([]string, len(r.Order))
	for i, tc := range r.Order {
		ids[i] = tc.ID
	}
	return ids
}

// Resolve expands filtered with the dependencies found in universe and orders
// the result so every dependency precedes its dependents, lower priority
// numbers first where the graph leaves a choice. Unknown dependency ids are
// dropped with a warning. Cycles are not rejected: every test is placed once,
// on first visit.
func Resolve(filtered, universe []*testcase.TestCase) *Resolution {
	res := &Resolution{}
	if len(filtered) == 0 {
		return res
	}

	known := testcase.Index(universe)
	for _, tc := range filtered {
		if _, ok := known[tc.ID]; !ok {
			known[tc.ID] = tc
		}
	}
	requested := make(map[string]bool, len(filtered))
	for _, tc := range filtered {
		requested[tc.ID] = true
	}

	closure := computeClosure(filtered, known, res)
	for _, tc := range closure {
		if !requested[tc.ID] {
			res.AutoIncluded = append(res.AutoIncluded, tc.ID)
		}
	}
	res.Order = order(closure)
	return res
}

func computeClosure(filtered []*testcase.TestCase, known map[string]*testcase.TestCase, res *Resolution) []*testcase.TestCase {
	var (
		closure  []*testcase.TestCase
		included = make(map[string]bool)
		warned   = make(map[string]bool)
	)
	var include func(tc *testcase.TestCase)
	include = func(tc *testcase.TestCase) {
		if included[tc.ID] {
			return
		}
		included[tc.ID] = true
		for _, dep := range tc.Dependencies {
			d, ok := known[dep]
			if !ok {
				key := tc.ID + "\x00" + dep
				if !warned[key] {
					warned[key] = true
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("test %s depends on unknown test %s; dependency ignored", tc.ID, dep))
				}
				continue
			}
			include(d)
		}
		closure = append(closure, tc)
	}
	for _, tc := range filtered {
		include(tc)
	}
	return closure
}

func order(closure []*testcase.TestCase) []*testcase.TestCase {
	byPriority := slices.Clone(closure)
	slices.SortStableFunc(byPriority, func(a, b *testcase.TestCase) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	inClosure := testcase.Index(closure)
	visited := make(map[string]bool, len(closure))
	out := make([]*testcase.TestCase, 0, len(closure))

	var visit func(tc *testcase.TestCase)
	visit = func(tc *testcase.TestCase) {
		if visited[tc.ID] {
			return
		}
		visited[tc.ID] = true
		for _, dep := range tc.Dependencies {
			if d, ok := inClosure[dep]; ok {
				visit(d)
			}
		}
		out = append(out, tc)
	}
	for _, tc := range byPriority {
		visit(tc)
	}
	return out
}
