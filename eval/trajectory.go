package eval

import (
	"slices"

	"github.com/m-mizutani/agenteval/trace"
)

// TrajectoryMatch scores the invoked tool sequence against the expected one as
// LCS(actual, expected) / max(len(actual), len(expected)), so missing, extra and
// reordered steps all lower the score. Only an exact match scores 1. An empty
// expectation scores 1 only when no tool was invoked.
func TrajectoryMatch(tr *trace.Trace, exp Expectation) (Result, error) {
	if err := checkInput(tr, exp); err != nil {
		return Result{}, err
	}

	expected := exp.routing()
	actual := Trajectory(tr)
	lcs := LCS(actual, expected)

	var score float64
	switch {
	case slices.Equal(actual, expected):
		score = 1
	case len(expected) == 0:
		score = 0
	default:
		score = float64(lcs) / float64(max(len(actual), len(expected)))
	}

	return Result{
		Kind:   KindTrajectory,
		Score:  score,
		Passed: slices.Equal(actual, expected),
		Details: map[string]any{
			"expected": expected,
			"actual":   actual,
			"lcs":      lcs,
		},
	}, nil
}

// LCS returns the length of the longest common subsequence of a and b.
func LCS(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
