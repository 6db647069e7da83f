package eval

import "github.com/m-mizutani/agenteval/trace"

// RouterAccuracy compares routing point i of the trace with the i-th expected
// tool. Routing points past the expected sequence are expected to choose no
// tool; expected tools with no routing point count as misses. The details carry
// matched and total so that a batch can be micro-averaged.
func RouterAccuracy(tr *trace.Trace, exp Expectation) (Result, error) {
	if err := checkInput(tr, exp); err != nil {
		return Result{}, err
	}

	expected := exp.routing()
	actual := Decisions(tr)
	total := max(len(expected), len(actual))

	matched := 0
	var mismatches []map[string]any
	for i := range total {
		want, got := "", ""
		if i < len(expected) {
			want = expected[i]
		}
		if i < len(actual) {
			got = actual[i]
		}
		if want == got {
			matched++
			continue
		}
		mismatches = append(mismatches, map[string]any{"step": i, "expected": want, "actual": got})
	}

	score := 1.0
	if total > 0 {
		score = float64(matched) / float64(total)
	}
	details := map[string]any{
		"matched":  matched,
		"total":    total,
		"expected": expected,
		"actual":   actual,
	}
	if len(mismatches) > 0 {
		details["mismatches"] = mismatches
	}
	return Result{Kind: KindRouter, Score: score, Passed: matched == total, Details: details}, nil
}
