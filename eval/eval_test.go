package eval_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/agenteval/eval"
	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/gt"
)

type call struct {
	tool   string
	args   map[string]any
	result map[string]any
	err    error
}

// buildTrace records one router span per call plus a final router span choosing
// no tool, the way the agent loop does.
func buildTrace(t *testing.T, calls ...call) *trace.Trace {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := trace.New(
		trace.WithIDGenerator(trace.SequentialIDs()),
		trace.WithClock(func() time.Time {
			now = now.Add(time.Millisecond)
			return now
		}),
	)
	root, err := rec.Start(nil, trace.SpanKindAgent, "agent_run", nil)
	gt.NoError(t, err)

	route := func(tool string) {
		sp, err := root.Start(trace.SpanKindRouter, "route", nil)
		gt.NoError(t, err)
		gt.NoError(t, sp.End(nil, map[string]any{trace.AttrToolID: tool}))
	}

	for _, c := range calls {
		route(c.tool)
		sp, err := root.Start(trace.SpanKindTool, c.tool, map[string]any{
			trace.AttrToolID:    c.tool,
			trace.AttrArguments: c.args,
		})
		gt.NoError(t, err)
		gt.NoError(t, sp.End(c.err, map[string]any{trace.AttrResult: c.result}))
	}
	route("")
	gt.NoError(t, root.End(nil, nil))
	return rec.Seal()
}

func TestTrajectoryMatch(t *testing.T) {
	exp := eval.Expectation{
		Query:              "show me a chart of Q1 sales",
		ExpectedTrajectory: []string{"lookup_sales_data", "plot_chart"},
	}

	testCases := []struct {
		name   string
		calls  []call
		score  float64
		passed bool
	}{
		{
			name:   "exact",
			calls:  []call{{tool: "lookup_sales_data"}, {tool: "plot_chart"}},
			score:  1,
			passed: true,
		},
		{
			name:  "skipped lookup",
			calls: []call{{tool: "plot_chart"}},
			score: 0.5,
		},
		{
			name:  "reordered",
			calls: []call{{tool: "plot_chart"}, {tool: "lookup_sales_data"}},
			score: 0.5,
		},
		{
			name:  "extra step",
			calls: []call{{tool: "lookup_sales_data"}, {tool: "analyze"}, {tool: "plot_chart"}},
			score: 2.0 / 3,
		},
		{
			name:  "repeated tool",
			calls: []call{{tool: "lookup_sales_data"}, {tool: "plot_chart"}, {tool: "plot_chart"}},
			score: 2.0 / 3,
		},
		{
			name:  "missing and extra",
			calls: []call{{tool: "lookup_sales_data"}, {tool: "analyze"}, {tool: "summarize"}, {tool: "report"}},
			score: 0.25,
		},
		{
			name:  "nothing in common",
			calls: []call{{tool: "analyze"}},
			score: 0,
		},
		{
			name:  "no tools",
			score: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := eval.TrajectoryMatch(buildTrace(t, tc.calls...), exp)
			gt.NoError(t, err)
			gt.Equal(t, res.Kind, eval.KindTrajectory)
			gt.Equal(t, res.Score, tc.score)
			gt.Equal(t, res.Passed, tc.passed)
		})
	}

	t.Run("empty expectation", func(t *testing.T) {
		direct := eval.Expectation{Query: "hello"}
		res, err := eval.TrajectoryMatch(buildTrace(t), direct)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 1.0)

		res, err = eval.TrajectoryMatch(buildTrace(t, call{tool: "lookup_sales_data"}), direct)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 0.0)
	})
}

func TestLCS(t *testing.T) {
	gt.Equal(t, eval.LCS([]string{"a", "b", "c", "d"}, []string{"b", "d"}), 2)
	gt.Equal(t, eval.LCS([]string{"a", "b"}, []string{"b", "a"}), 1)
	gt.Equal(t, eval.LCS(nil, []string{"a"}), 0)
	gt.Equal(t, eval.LCS([]string{"x", "a", "y", "b", "z", "c"}, []string{"a", "b", "c"}), 3)
}

func TestRouterAccuracy(t *testing.T) {
	exp := eval.Expectation{
		Query:              "show me a chart of Q1 sales",
		ExpectedTrajectory: []string{"lookup_sales_data", "plot_chart"},
	}

	t.Run("every routing point matches", func(t *testing.T) {
		res, err := eval.RouterAccuracy(buildTrace(t, call{tool: "lookup_sales_data"}, call{tool: "plot_chart"}), exp)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 1.0)
		gt.True(t, res.Passed)
		gt.Equal(t, res.Details["matched"], any(3))
		gt.Equal(t, res.Details["total"], any(3))
	})

	t.Run("wrong first choice", func(t *testing.T) {
		res, err := eval.RouterAccuracy(buildTrace(t, call{tool: "plot_chart"}), exp)
		gt.NoError(t, err)
		// routing points: plot_chart vs lookup, "" vs plot_chart
		gt.Equal(t, res.Score, 0.0)
		gt.False(t, res.Passed)
	})

	t.Run("single expected tool", func(t *testing.T) {
		single := eval.Expectation{Query: "look up store 1320", ExpectedToolID: "lookup_sales_data"}
		res, err := eval.RouterAccuracy(buildTrace(t, call{tool: "lookup_sales_data"}, call{tool: "plot_chart"}), single)
		gt.NoError(t, err)
		// lookup matches, plot_chart was not expected, the final no-tool point matches
		gt.Equal(t, res.Details["matched"], any(2))
		gt.Equal(t, res.Details["total"], any(3))
	})

	t.Run("direct answer expected", func(t *testing.T) {
		res, err := eval.RouterAccuracy(buildTrace(t), eval.Expectation{Query: "hello"})
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 1.0)
	})
}

func TestSkillCorrectness(t *testing.T) {
	exp := eval.Expectation{
		Query:              "look up store 1320",
		ExpectedToolID:     "lookup_sales_data",
		ExpectedArguments:  map[string]any{"store": 1320, "prompt": "look up store 1320"},
		ExpectedTrajectory: []string{"lookup_sales_data"},
	}

	t.Run("arguments match after normalisation", func(t *testing.T) {
		tr := buildTrace(t, call{
			tool: "lookup_sales_data",
			args: map[string]any{"store": 1320.0, "prompt": "look up store 1320", "extra": true},
		})
		res, err := eval.SkillCorrectness(tr, exp, nil)
		gt.NoError(t, err)
		gt.Equal(t, res.Kind, eval.KindSkill)
		gt.Equal(t, res.Score, 1.0)
		gt.True(t, res.Passed)
		gt.Equal(t, res.Details["argument_diff"], nil)
	})

	t.Run("partial argument match", func(t *testing.T) {
		tr := buildTrace(t, call{
			tool: "lookup_sales_data",
			args: map[string]any{"store": 1, "prompt": "look up store 1320"},
		})
		res, err := eval.SkillCorrectness(tr, exp, nil)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 0.5)
		gt.NotNil(t, res.Details["argument_diff"])
	})

	t.Run("failed invocation scores zero", func(t *testing.T) {
		tr := buildTrace(t, call{tool: "lookup_sales_data", err: errors.New("boom")})
		res, err := eval.SkillCorrectness(tr, exp, nil)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 0.0)
	})

	t.Run("expected tool never invoked", func(t *testing.T) {
		res, err := eval.SkillCorrectness(buildTrace(t, call{tool: "plot_chart"}), exp, nil)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 0.0)
		gt.Equal(t, res.Details["reason"], any("no expected tool was invoked"))
	})

	t.Run("predicate per tool", func(t *testing.T) {
		chartExp := eval.Expectation{
			Query:              "chart",
			ExpectedTrajectory: []string{"lookup_sales_data", "plot_chart"},
		}
		preds := map[string]eval.Predicate{
			"plot_chart": func(inv eval.Invocation, exp eval.Expectation) float64 {
				if inv.Result["chart"] == "bar" {
					return 1
				}
				return 0.2
			},
		}
		tr := buildTrace(t,
			call{tool: "lookup_sales_data", result: map[string]any{"data": "x"}},
			call{tool: "plot_chart", result: map[string]any{"chart": "line"}},
			call{tool: "unrelated"},
		)
		res, err := eval.SkillCorrectness(tr, chartExp, preds)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 0.6)
		gt.A(t, res.Details["invocations"].([]map[string]any)).Length(2)
	})

	t.Run("predicate output is clamped", func(t *testing.T) {
		preds := map[string]eval.Predicate{
			"lookup_sales_data": func(eval.Invocation, eval.Expectation) float64 { return 7 },
		}
		tr := buildTrace(t, call{tool: "lookup_sales_data", args: map[string]any{"store": 1320, "prompt": "look up store 1320"}})
		res, err := eval.SkillCorrectness(tr, exp, preds)
		gt.NoError(t, err)
		gt.Equal(t, res.Score, 1.0)
	})
}

func TestEvaluatorsRejectMalformedInput(t *testing.T) {
	good := buildTrace(t, call{tool: "lookup_sales_data"})
	exp := eval.Expectation{Query: "q", ExpectedToolID: "lookup_sales_data"}

	t.Run("open span", func(t *testing.T) {
		rec := trace.New()
		_, err := rec.Start(nil, trace.SpanKindAgent, "agent_run", nil)
		gt.NoError(t, err)
		_, err = eval.TrajectoryMatch(rec.Snapshot(), exp)
		gt.True(t, errors.Is(err, eval.ErrMalformedTrace))
	})

	t.Run("nil trace", func(t *testing.T) {
		_, err := eval.RouterAccuracy(nil, exp)
		gt.True(t, errors.Is(err, eval.ErrMalformedTrace))
	})

	t.Run("invalid expectation", func(t *testing.T) {
		_, err := eval.SkillCorrectness(good, eval.Expectation{}, nil)
		gt.True(t, errors.Is(err, eval.ErrInvalidExpectation))
	})

	t.Run("all evaluators at once", func(t *testing.T) {
		results, err := eval.Evaluate(good, exp, nil)
		gt.NoError(t, err)
		gt.A(t, results).Length(3)
		gt.Equal(t, results[0].Kind, eval.KindRouter)
		gt.Equal(t, results[1].Kind, eval.KindSkill)
		gt.Equal(t, results[2].Kind, eval.KindTrajectory)
	})
}

func TestExpectationValidate(t *testing.T) {
	testCases := []struct {
		name    string
		exp     eval.Expectation
		wantErr bool
	}{
		{name: "query only", exp: eval.Expectation{Query: "hello"}},
		{name: "missing query", exp: eval.Expectation{ExpectedToolID: "a"}, wantErr: true},
		{name: "arguments without tool", exp: eval.Expectation{Query: "q", ExpectedArguments: map[string]any{"a": 1}}, wantErr: true},
		{name: "tool outside trajectory", exp: eval.Expectation{Query: "q", ExpectedToolID: "a", ExpectedTrajectory: []string{"b"}}, wantErr: true},
		{name: "empty trajectory entry", exp: eval.Expectation{Query: "q", ExpectedTrajectory: []string{"a", ""}}, wantErr: true},
		{name: "tool in trajectory", exp: eval.Expectation{Query: "q", ExpectedToolID: "b", ExpectedTrajectory: []string{"a", "b"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.exp.Validate()
			if tc.wantErr {
				gt.True(t, errors.Is(err, eval.ErrInvalidExpectation))
			} else {
				gt.NoError(t, err)
			}
		})
	}
}
