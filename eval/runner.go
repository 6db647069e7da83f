package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Agent runs one query. *agenteval.Agent satisfies it.
type Agent interface {
	Run(ctx context.Context, query string) (*agenteval.Result, error)
}

type runnerConfig struct {
	workers    int
	predicates map[string]Predicate
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

// WithWorkers sets how many cases run at the same time. Default is 1.
func WithWorkers(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPredicate sets the skill predicate for one tool.
func WithPredicate(toolID string, p Predicate) RunnerOption {
	return func(c *runnerConfig) {
		c.predicates[toolID] = p
	}
}

// WithPredicates sets skill predicates keyed by tool ID.
func WithPredicates(predicates map[string]Predicate) RunnerOption {
	return func(c *runnerConfig) {
		for id, p := range predicates {
			c.predicates[id] = p
		}
	}
}

// Runner runs the agent for each expectation and evaluates the resulting traces.
type Runner struct {
	agent Agent
	cfg   runnerConfig
}

// NewRunner creates a batch runner.
func NewRunner(agent Agent, opts ...RunnerOption) *Runner {
	cfg := runnerConfig{workers: 1, predicates: map[string]Predicate{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{agent: agent, cfg: cfg}
}

// Case is the outcome of one expectation.
type Case struct {
	ID         string   `json:"id"`
	Query      string   `json:"query"`
	TraceID    string   `json:"trace_id"`
	Answer     string   `json:"answer"`
	Trajectory []string `json:"trajectory"`
	RunError   string   `json:"run_error,omitempty"`
	Results    []Result `json:"results"`
}

// Score returns the score of kind, or 0 if the case has no such result.
func (x *Case) Score(kind Kind) float64 {
	for _, r := range x.Results {
		if r.Kind == kind {
			return r.Score
		}
	}
	return 0
}

// Report is the outcome of a batch.
type Report struct {
	Cases []*Case `json:"cases"`
	// Aggregate is the batch score per kind. Router accuracy is the fraction of
	// matching routing points over all cases; the other kinds are case means.
	Aggregate map[Kind]float64 `json:"aggregate"`
}

// Evaluate runs every expectation in its own agent run. Cases are independent and
// may run concurrently; the report keeps input order. A failed run is still
// evaluated on its partial trace and its error is kept in the case.
func (r *Runner) Evaluate(ctx context.Context, exps []Expectation) (*Report, error) {
	exps = slices.Clone(exps)
	for i := range exps {
		if exps[i].ID == "" {
			exps[i].ID = fmt.Sprintf("case-%d", i+1)
		}
		if err := exps[i].Validate(); err != nil {
			return nil, err
		}
	}

	cases := make([]*Case, len(exps))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.workers)

	for i, exp := range exps {
		eg.Go(func() error {
			c, err := r.evaluateOne(ctx, exp)
			if err != nil {
				return err
			}
			cases[i] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Report{Cases: cases, Aggregate: aggregate(cases)}, nil
}

func (r *Runner) evaluateOne(ctx context.Context, exp Expectation) (*Case, error) {
	logger := ctxlog.From(ctx).With("case_id", exp.ID)

	result, runErr := r.agent.Run(ctx, exp.Query)
	if result == nil || result.Trace == nil {
		return nil, goerr.Wrap(ErrMalformedTrace, "agent returned no trace", goerr.V("case_id", exp.ID))
	}

	c := &Case{
		ID:         exp.ID,
		Query:      exp.Query,
		TraceID:    result.Trace.TraceID,
		Answer:     result.Answer,
		Trajectory: Trajectory(result.Trace),
	}
	if runErr != nil {
		c.RunError = runErr.Error()
		logger.Warn("agent run failed", "error", runErr)
	}

	results, err := Evaluate(result.Trace, exp, r.cfg.predicates)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate case", goerr.V("case_id", exp.ID))
	}
	c.Results = results

	logger.Info("case evaluated",
		"router", c.Score(KindRouter),
		"skill", c.Score(KindSkill),
		"trajectory", c.Score(KindTrajectory),
	)
	return c, nil
}

func aggregate(cases []*Case) map[Kind]float64 {
	out := make(map[Kind]float64, len(Kinds))
	if len(cases) == 0 {
		return out
	}

	var matched, total int
	var skill, trajectory float64
	for _, c := range cases {
		for _, res := range c.Results {
			switch res.Kind {
			case KindRouter:
				matched += detailInt(res.Details, "matched")
				total += detailInt(res.Details, "total")
			case KindSkill:
				skill += res.Score
			case KindTrajectory:
				trajectory += res.Score
			}
		}
	}

	out[KindRouter] = 1
	if total > 0 {
		out[KindRouter] = float64(matched) / float64(total)
	}
	out[KindSkill] = skill / float64(len(cases))
	out[KindTrajectory] = trajectory / float64(len(cases))
	return out
}

func detailInt(details map[string]any, key string) int {
	switch v := details[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// WriteJSONL writes one JSON object per case.
func (x *Report) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, c := range x.Cases {
		if err := enc.Encode(c); err != nil {
			return goerr.Wrap(err, "failed to write case", goerr.V("case_id", c.ID))
		}
	}
	return nil
}
