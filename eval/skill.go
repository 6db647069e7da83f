package eval

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/m-mizutani/agenteval/trace"
)

// Predicate scores one invocation of a tool in [0, 1].
type Predicate func(inv Invocation, exp Expectation) float64

// SkillCorrectness scores every invocation of an expected tool and averages the
// scores. A tool with a predicate is scored by it; otherwise DefaultPredicate is
// used. With nothing expected and nothing invoked the score is 1.
func SkillCorrectness(tr *trace.Trace, exp Expectation, predicates map[string]Predicate) (Result, error) {
	if err := checkInput(tr, exp); err != nil {
		return Result{}, err
	}

	expected := exp.expectedTools()
	var (
		sum    float64
		scored []map[string]any
	)
	for _, inv := range Invocations(tr) {
		if !expected[inv.ToolID] {
			continue
		}
		pred := predicates[inv.ToolID]
		if pred == nil {
			pred = DefaultPredicate
		}
		score := clamp(pred(inv, exp))
		sum += score
		scored = append(scored, map[string]any{
			"tool_id": inv.ToolID,
			"span_id": inv.SpanID,
			"score":   score,
		})
	}

	details := map[string]any{"invocations": scored}
	var score float64
	switch {
	case len(scored) > 0:
		score = sum / float64(len(scored))
	case len(expected) == 0:
		score = 1
	default:
		details["reason"] = "no expected tool was invoked"
	}
	if diff := argumentDiff(tr, exp); diff != "" {
		details["argument_diff"] = diff
	}

	return Result{Kind: KindSkill, Score: score, Passed: score == 1, Details: details}, nil
}

// DefaultPredicate scores 0 for a failed invocation. For the expected tool with
// expected arguments it scores the share of expected keys whose values are equal
// after JSON normalisation; otherwise a successful call scores 1.
func DefaultPredicate(inv Invocation, exp Expectation) float64 {
	if !inv.Succeeded() {
		return 0
	}
	if inv.ToolID != exp.ExpectedToolID || len(exp.ExpectedArguments) == 0 {
		return 1
	}

	matched := 0
	for key, want := range exp.ExpectedArguments {
		got, ok := inv.Arguments[key]
		if ok && cmp.Equal(normalize(want), normalize(got)) {
			matched++
		}
	}
	return float64(matched) / float64(len(exp.ExpectedArguments))
}

// argumentDiff describes how the arguments of the first call to the expected tool
// differ from the expected ones, limited to expected keys.
func argumentDiff(tr *trace.Trace, exp Expectation) string {
	if len(exp.ExpectedArguments) == 0 {
		return ""
	}
	for _, inv := range Invocations(tr) {
		if inv.ToolID != exp.ExpectedToolID {
			continue
		}
		keys := make([]string, 0, len(exp.ExpectedArguments))
		for k := range exp.ExpectedArguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		got := make(map[string]any, len(keys))
		for _, k := range keys {
			if v, ok := inv.Arguments[k]; ok {
				got[k] = v
			}
		}
		return cmp.Diff(normalize(exp.ExpectedArguments), normalize(got))
	}
	return ""
}

// normalize maps v to the value JSON decoding would produce, so that 1, int64(1)
// and 1.0 compare equal.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
