package resolver

import (
	"slices"
	"strings"

	"github.com/signalnine/verdict/internal/testcase"
)

// FindCycles reports every dependency cycle among cases, each rotated to start
// at its smallest id. Runs tolerate cycles; this exists for `verdict validate`.
func FindCycles(cases []*testcase.TestCase) [][]string {
	const (
		white = iota
		grey
		black
	)
	idx := testcase.Index(cases)
	color := make(map[string]int, len(cases))
	seen := make(map[string]bool)
	var (
		stack  []string
		cycles [][]string
	)

	var walk func(id string)
	walk = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range idx[id].Dependencies {
			if _, ok := idx[dep]; !ok {
				continue
			}
			switch color[dep] {
			case white:
				walk(dep)
			case grey:
				start := slices.Index(stack, dep)
				cycle := canonical(stack[start:])
				key := strings.Join(cycle, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	for _, tc := range cases {
		if color[tc.ID] == white {
			walk(tc.ID)
		}
	}
	return cycles
}

func canonical(cycle []string) []string {
	minAt := 0
	for i, id := range cycle {
		if id < cycle[minAt] {
			minAt = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[minAt:]...)
	return append(out, cycle[:minAt]...)
}
