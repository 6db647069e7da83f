package agenteval

import (
	"context"
	"fmt"
	"math"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultThreshold is the minimum score a candidate needs to be chosen.
const DefaultThreshold = 0.1

// ToolInvocation is one executed tool call of a run.
type ToolInvocation struct {
	Step        int            `json:"step"`
	ToolID      string         `json:"tool_id"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Recoverable bool           `json:"recoverable,omitempty"`
	SpanID      string         `json:"span_id"`

	err error
}

// Succeeded reports whether the tool returned without error.
func (x *ToolInvocation) Succeeded() bool { return x.Error == "" && x.err == nil }

// Err returns the error returned by the tool, if any.
func (x *ToolInvocation) Err() error { return x.err }

// RouteInput is what a scorer sees at one routing point.
type RouteInput struct {
	Query string
	Step  int
	// Invocations holds the tool calls already made in the run, oldest first.
	Invocations []*ToolInvocation
}

// Score is a scorer's verdict for one candidate tool.
type Score struct {
	Value     float64
	Arguments map[string]any
	Reason    string
}

// Scorer rates every candidate for a routing input. It must return exactly one
// score per candidate, in candidate order.
type Scorer interface {
	Score(ctx context.Context, in RouteInput, candidates []ToolSpec) ([]Score, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, in RouteInput, candidates []ToolSpec) ([]Score, error)

func (f ScorerFunc) Score(ctx context.Context, in RouteInput, candidates []ToolSpec) ([]Score, error) {
	return f(ctx, in, candidates)
}

// RoutingDecision is the outcome of one routing point. An empty ToolID means the
// agent answers without invoking another tool.
type RoutingDecision struct {
	Query      string         `json:"query"`
	Step       int            `json:"step"`
	ToolID     string         `json:"tool_id,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"rationale"`
	SpanID     string         `json:"span_id"`
}

// HasTool reports whether the decision selects a tool.
func (x *RoutingDecision) HasTool() bool { return x.ToolID != "" }

// Router picks the next tool from scored candidates.
type Router struct {
	scorer    Scorer
	threshold float64
}

// NewRouter creates a router. A nil scorer uses a KeywordScorer.
func NewRouter(scorer Scorer, threshold float64) *Router {
	if scorer == nil {
		scorer = &KeywordScorer{}
	}
	return &Router{scorer: scorer, threshold: threshold}
}

// Route scores the candidates and records exactly one router span under parent.
// The highest score at or above the threshold wins; ties go to the earliest
// candidate. Scorer failures are returned wrapped in ErrRoutingFailed, with the
// router span closed as error.
func (r *Router) Route(ctx context.Context, parent *trace.Scope, in RouteInput, candidates []ToolSpec) (decision *RoutingDecision, err error) {
	if parent == nil {
		return nil, goerr.Wrap(trace.ErrInvalidParent, "router span requires a parent")
	}

	sp, err := parent.Start(trace.SpanKindRouter, "route", map[string]any{
		trace.AttrQuery: in.Query,
		trace.AttrStep:  in.Step,
	})
	if err != nil {
		return nil, err
	}
	defer sp.Finish(&err)

	decision = &RoutingDecision{Query: in.Query, Step: in.Step, SpanID: sp.ID()}

	var scores []Score
	if len(candidates) > 0 {
		scores, err = r.scorer.Score(ctx, in, candidates)
		if err != nil {
			return nil, goerr.Wrap(ErrRoutingFailed, "scorer failed", goerr.V("step", in.Step), goerr.V("cause", err.Error()))
		}
		if len(scores) != len(candidates) {
			return nil, goerr.Wrap(ErrRoutingFailed, "scorer returned wrong number of scores",
				goerr.V("step", in.Step), goerr.V("candidates", len(candidates)), goerr.V("scores", len(scores)))
		}
	}

	best := -1
	byTool := make(map[string]any, len(candidates))
	for i, s := range scores {
		byTool[candidates[i].Name] = s.Value
		if math.IsNaN(s.Value) || s.Value < r.threshold {
			continue
		}
		if best < 0 || s.Value > scores[best].Value {
			best = i
		}
	}

	switch {
	case len(candidates) == 0:
		decision.Rationale = "no candidate tools"
	case best < 0:
		decision.Rationale = fmt.Sprintf("no candidate reached threshold %.2f", r.threshold)
	default:
		chosen := scores[best]
		decision.ToolID = candidates[best].Name
		decision.Arguments = chosen.Arguments
		decision.Confidence = chosen.Value
		decision.Rationale = chosen.Reason
		if decision.Rationale == "" {
			decision.Rationale = fmt.Sprintf("highest score %.2f", chosen.Value)
		}
	}

	ctxlog.From(ctx).Debug("routing decision",
		"step", in.Step,
		"tool_id", decision.ToolID,
		"confidence", decision.Confidence,
		"rationale", decision.Rationale,
	)

	if err := sp.End(nil, map[string]any{
		trace.AttrToolID:     decision.ToolID,
		trace.AttrArguments:  decision.Arguments,
		trace.AttrConfidence: decision.Confidence,
		trace.AttrRationale:  decision.Rationale,
		trace.AttrScores:     byTool,
	}); err != nil {
		return nil, err
	}
	return decision, nil
}
