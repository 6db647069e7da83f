// Package eval scores recorded agent traces against expectations. Evaluators read
// the trace only; they never run the agent or its tools again.
package eval

import (
	"encoding/json"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/goerr/v2"
)

// Kind is an evaluation axis.
type Kind string

const (
	KindRouter     Kind = "router"
	KindSkill      Kind = "skill"
	KindTrajectory Kind = "trajectory"
)

// Kinds lists every evaluation axis in reporting order.
var Kinds = []Kind{KindRouter, KindSkill, KindTrajectory}

// Result is the verdict of one evaluator for one trace.
type Result struct {
	Kind    Kind           `json:"kind"`
	Score   float64        `json:"score"`
	Passed  bool           `json:"passed"`
	Details map[string]any `json:"details,omitempty"`
}

// Invocation is a tool call as recorded in a trace.
type Invocation struct {
	SpanID    string
	ToolID    string
	Arguments map[string]any
	Result    map[string]any
	Status    trace.SpanStatus
	Error     string
}

// Succeeded reports whether the tool span closed with status ok.
func (x Invocation) Succeeded() bool { return x.Status == trace.SpanStatusOK }

// Evaluate runs all three evaluators.
func Evaluate(tr *trace.Trace, exp Expectation, predicates map[string]Predicate) ([]Result, error) {
	router, err := RouterAccuracy(tr, exp)
	if err != nil {
		return nil, err
	}
	skill, err := SkillCorrectness(tr, exp, predicates)
	if err != nil {
		return nil, err
	}
	trajectory, err := TrajectoryMatch(tr, exp)
	if err != nil {
		return nil, err
	}
	return []Result{router, skill, trajectory}, nil
}

func checkInput(tr *trace.Trace, exp Expectation) error {
	if err := exp.Validate(); err != nil {
		return err
	}
	if err := tr.Validate(); err != nil {
		return goerr.Wrap(ErrMalformedTrace, "trace cannot be evaluated", goerr.V("cause", err.Error()))
	}
	return nil
}

// Decisions returns the tool chosen at each routing point, in time order. An
// empty string is a routing point that chose no tool.
func Decisions(tr *trace.Trace) []string {
	spans := tr.SpansOfKind(trace.SpanKindRouter)
	ids := make([]string, len(spans))
	for i, s := range spans {
		ids[i] = s.AttrString(trace.AttrToolID)
	}
	return ids
}

// Invocations returns the tool calls of a trace in time order.
func Invocations(tr *trace.Trace) []Invocation {
	spans := tr.SpansOfKind(trace.SpanKindTool)
	out := make([]Invocation, len(spans))
	for i, s := range spans {
		id := s.AttrString(trace.AttrToolID)
		if id == "" {
			id = s.Label
		}
		out[i] = Invocation{
			SpanID:    s.ID,
			ToolID:    id,
			Arguments: asMap(s.Attr(trace.AttrArguments)),
			Result:    asMap(s.Attr(trace.AttrResult)),
			Status:    s.Status,
			Error:     s.Error,
		}
	}
	return out
}

// Trajectory returns the tool IDs invoked in a trace, in time order.
func Trajectory(tr *trace.Trace) []string {
	invs := Invocations(tr)
	ids := make([]string, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ToolID
	}
	return ids
}

func asMap(v any) map[string]any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return x
	}
	// attributes recorded in memory may hold typed maps; round-trip through JSON
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
