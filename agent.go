package agenteval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultMaxSteps is the number of tool executions allowed in one run.
const DefaultMaxSteps = 8

// State is a state of the agent loop.
type State string

const (
	StateStart      State = "start"
	StateRouting    State = "routing"
	StateExecuting  State = "executing"
	StateResponding State = "responding"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Responder synthesizes the final answer from the tool calls of a run.
type Responder func(ctx context.Context, query string, invocations []*ToolInvocation) (string, error)

type config struct {
	maxSteps      int
	threshold     float64
	scorer        Scorer
	toolTimeout   time.Duration
	responder     Responder
	fallback      Responder
	strictRouting bool
	handler       trace.Handler
	repository    trace.Repository
	logger        *slog.Logger
	recorderOpts  []func() []trace.Option
	middlewares   []ToolMiddleware
}

// Option is a functional option for configuring an Agent.
type Option func(*config)

// WithMaxSteps sets the maximum number of tool executions in one run. Values
// below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithThreshold sets the minimum score a tool needs to be selected.
func WithThreshold(v float64) Option {
	return func(c *config) {
		c.threshold = v
	}
}

// WithScorer sets the routing scorer. Default is a KeywordScorer.
func WithScorer(s Scorer) Option {
	return func(c *config) {
		c.scorer = s
	}
}

// WithToolTimeout bounds each tool execution. Zero means no limit.
func WithToolTimeout(d time.Duration) Option {
	return func(c *config) {
		c.toolTimeout = d
	}
}

// WithResponder replaces the default answer synthesis.
func WithResponder(r Responder) Option {
	return func(c *config) {
		c.responder = r
	}
}

// WithFallback sets the responder used when a tool times out. Without it a
// timeout fails the run.
func WithFallback(r Responder) Option {
	return func(c *config) {
		c.fallback = r
	}
}

// WithStrictRouting makes routing failures fail the run instead of falling back
// to a direct answer.
func WithStrictRouting() Option {
	return func(c *config) {
		c.strictRouting = true
	}
}

// WithHandler forwards span events and the sealed trace of every run to h.
func WithHandler(h trace.Handler) Option {
	return func(c *config) {
		c.handler = h
	}
}

// WithRepository saves the sealed trace of every run.
func WithRepository(r trace.Repository) Option {
	return func(c *config) {
		c.repository = r
	}
}

// WithLogger sets the logger attached to the run context. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRecorderOptions sets a factory for per-run recorder options, e.g. a fixed
// clock or sequential span IDs. The factory is called once per run so that
// stateful generators are not shared between runs.
func WithRecorderOptions(fn func() []trace.Option) Option {
	return func(c *config) {
		c.recorderOpts = append(c.recorderOpts, fn)
	}
}

// WithToolMiddleware wraps every tool execution. The first middleware runs
// outermost. Middlewares run inside the tool timeout and panic recovery.
func WithToolMiddleware(middlewares ...ToolMiddleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, middlewares...)
	}
}

// Agent runs queries against a tool registry. An Agent holds no per-run state
// and may run queries concurrently.
type Agent struct {
	registry *Registry
	router   *Router
	cfg      config
}

// New creates an agent over registry.
func New(registry *Registry, opts ...Option) *Agent {
	cfg := config{
		maxSteps:  DefaultMaxSteps,
		threshold: DefaultThreshold,
		responder: DefaultResponder,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if registry == nil {
		registry = &Registry{}
	}

	return &Agent{
		registry: registry,
		router:   NewRouter(cfg.scorer, cfg.threshold),
		cfg:      cfg,
	}
}

// Registry returns the registry the agent routes over.
func (a *Agent) Registry() *Registry { return a.registry }

// Result is the outcome of one run.
type Result struct {
	Answer      string             `json:"answer"`
	Trace       *trace.Trace       `json:"trace"`
	States      []State            `json:"states"`
	Decisions   []*RoutingDecision `json:"decisions"`
	Invocations []*ToolInvocation  `json:"invocations"`

	// StepLimitExceeded is set when the loop stopped because the step limit was
	// reached. The router is not consulted again, so it is set even when no
	// further tool would have been chosen.
	StepLimitExceeded bool `json:"step_limit_exceeded,omitempty"`
	// Fallback is set when the answer came from the fallback responder.
	Fallback bool `json:"fallback,omitempty"`
	// Recovered holds the recoverable failure that ended the loop early.
	Recovered error `json:"-"`
}

// Final returns the last state of the run.
func (x *Result) Final() State {
	if len(x.States) == 0 {
		return ""
	}
	return x.States[len(x.States)-1]
}

// Trajectory returns the IDs of executed tools in order.
func (x *Result) Trajectory() []string {
	ids := make([]string, 0, len(x.Invocations))
	for _, inv := range x.Invocations {
		ids = append(ids, inv.ToolID)
	}
	return ids
}

// Run executes one query with a fresh agent. It returns the final answer and the
// sealed trace; the trace is returned even when err is not nil.
func Run(ctx context.Context, query string, registry *Registry, maxSteps int) (string, *trace.Trace, error) {
	result, err := New(registry, WithMaxSteps(maxSteps)).Run(ctx, query)
	if result == nil {
		return "", nil, err
	}
	return result.Answer, result.Trace, err
}

// Run executes one query. The returned Result is never nil and always carries
// the sealed trace, also when an error is returned.
func (a *Agent) Run(ctx context.Context, query string) (*Result, error) {
	opts := []trace.Option{
		trace.WithMetadata(trace.TraceMetadata{Query: query}),
	}
	if a.cfg.handler != nil {
		opts = append(opts, trace.WithHandler(a.cfg.handler))
	}
	for _, fn := range a.cfg.recorderOpts {
		opts = append(opts, fn()...)
	}
	rec := trace.New(opts...)

	logger := a.cfg.logger.With("trace_id", rec.TraceID())
	ctx = ctxlog.With(ctx, logger)

	r := &run{
		agent:  a,
		rec:    rec,
		query:  query,
		result: &Result{},
	}
	err := r.execute(ctx)
	r.seal(ctx)
	return r.result, err
}

type run struct {
	agent  *Agent
	rec    *trace.Recorder
	query  string
	result *Result
}

func (r *run) transition(ctx context.Context, s State) {
	r.result.States = append(r.result.States, s)
	ctxlog.From(ctx).Debug("agent state", "state", s)
}

func (r *run) execute(ctx context.Context) error {
	cfg := &r.agent.cfg
	r.transition(ctx, StateStart)

	root, err := r.rec.Start(nil, trace.SpanKindAgent, "agent_run", map[string]any{
		trace.AttrQuery: r.query,
	})
	if err != nil {
		r.transition(ctx, StateFailed)
		return err
	}

	candidates := r.agent.registry.Specs()
	respond := cfg.responder

loop:
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return r.cancel(ctx, err)
		}

		r.transition(ctx, StateRouting)
		decision, err := r.agent.router.Route(ctx, root, RouteInput{
			Query:       r.query,
			Step:        step,
			Invocations: r.result.Invocations,
		}, candidates)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.cancel(ctx, ctxErr)
			}
			if !errors.Is(err, ErrRoutingFailed) || cfg.strictRouting {
				return r.fail(ctx, root, err)
			}
			ctxlog.From(ctx).Warn("routing failed, answering directly", "error", err)
			r.result.Recovered = err
			break loop
		}
		r.result.Decisions = append(r.result.Decisions, decision)
		if !decision.HasTool() {
			break loop
		}

		r.transition(ctx, StateExecuting)
		inv, err := r.invoke(ctx, root, step, decision)
		if inv != nil {
			r.result.Invocations = append(r.result.Invocations, inv)
		}
		if err != nil {
			switch {
			case IsRecoverable(err):
				ctxlog.From(ctx).Warn("recoverable tool failure", "tool_id", decision.ToolID, "error", err)
				r.result.Recovered = err
				break loop

			case errors.Is(err, ErrToolTimeout) && cfg.fallback != nil:
				ctxlog.From(ctx).Warn("tool timed out, using fallback", "tool_id", decision.ToolID)
				r.result.Recovered = err
				r.result.Fallback = true
				respond = cfg.fallback
				break loop

			default:
				return r.fail(ctx, root, err)
			}
		}

		if len(r.result.Invocations) >= cfg.maxSteps {
			ctxlog.From(ctx).Warn("step limit reached", "max_steps", cfg.maxSteps)
			r.result.StepLimitExceeded = true
			r.result.Recovered = goerr.Wrap(ErrStepLimitExceeded, "agent stopped before routing again", goerr.V("max_steps", cfg.maxSteps))
			break loop
		}
	}

	r.transition(ctx, StateResponding)
	answer, err := respond(ctx, r.query, r.result.Invocations)
	if err != nil {
		return r.fail(ctx, root, goerr.Wrap(ErrResponseFailed, "responder failed", goerr.V("cause", err.Error())))
	}
	r.result.Answer = answer

	extra := map[string]any{trace.AttrAnswer: answer}
	if r.result.StepLimitExceeded {
		extra[trace.AttrStepLimitExceeded] = true
	}
	if r.result.Fallback {
		extra[trace.AttrFallback] = true
	}
	if err := root.End(nil, extra); err != nil {
		r.transition(ctx, StateFailed)
		return err
	}

	r.transition(ctx, StateDone)
	return nil
}

// invoke runs the tool chosen by d inside its own tool span.
func (r *run) invoke(ctx context.Context, root *trace.Scope, step int, d *RoutingDecision) (inv *ToolInvocation, err error) {
	registry := r.agent.registry
	tool, err := registry.Resolve(d.ToolID)
	if err != nil {
		return nil, err
	}

	inv = &ToolInvocation{Step: step, ToolID: d.ToolID, Arguments: d.Arguments}
	sp, err := root.Start(trace.SpanKindTool, d.ToolID, map[string]any{
		trace.AttrToolID:    d.ToolID,
		trace.AttrStep:      step,
		trace.AttrArguments: d.Arguments,
	})
	if err != nil {
		return nil, err
	}
	inv.SpanID = sp.ID()
	defer sp.Finish(&err)

	var result map[string]any
	if verr := registry.ValidateArguments(d.ToolID, d.Arguments); verr != nil {
		err = &ToolError{Message: "invalid arguments", Recoverable: true, Cause: verr}
	} else {
		spec, _ := registry.Spec(d.ToolID)
		handler := buildToolChain(r.agent.cfg.middlewares, runToolHandler(tool))
		req := &ToolExecRequest{ToolID: d.ToolID, Step: step, Arguments: d.Arguments, Spec: spec}
		result, err = callTool(ctx, handler, req, r.agent.cfg.toolTimeout)
	}

	if err != nil {
		te := asToolError(err)
		inv.err = te
		inv.Error = te.Error()
		inv.Recoverable = te.Recoverable
		if endErr := sp.End(te, map[string]any{trace.AttrRecoverable: te.Recoverable}); endErr != nil {
			return inv, endErr
		}
		return inv, goerr.Wrap(te, "tool execution failed", goerr.V("tool_id", d.ToolID), goerr.V("step", step))
	}

	inv.Result = result
	if err := sp.End(nil, map[string]any{trace.AttrResult: result}); err != nil {
		return inv, err
	}
	return inv, nil
}

// asToolError classifies any tool failure as a ToolError. Plain errors and
// timeouts are not recoverable.
func asToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: "tool returned an error", Cause: err}
}

type toolOutcome struct {
	result map[string]any
	err    error
}

// callTool runs handler on a context detached from the caller's cancellation;
// only the timeout, when set, bounds it.
func callTool(ctx context.Context, handler ToolHandler, req *ToolExecRequest, timeout time.Duration) (map[string]any, error) {
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan toolOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- toolOutcome{err: goerr.New("tool panicked", goerr.V("panic", fmt.Sprint(p)))}
			}
		}()
		resp, err := handler(ctx, req)
		var result map[string]any
		if resp != nil {
			result = resp.Result
		}
		ch <- toolOutcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, goerr.Wrap(ErrToolTimeout, "tool returned after its deadline", goerr.V("timeout", timeout.String()), goerr.V("cause", out.err.Error()))
		}
		return out.result, out.err
	case <-ctx.Done():
		return nil, goerr.Wrap(ErrToolTimeout, "tool did not return in time", goerr.V("timeout", timeout.String()))
	}
}

func (r *run) fail(ctx context.Context, root *trace.Scope, err error) error {
	r.transition(ctx, StateFailed)
	ctxlog.From(ctx).Error("agent run failed", "error", err)

	if root.Ended() {
		return err
	}
	if endErr := root.End(err, nil); endErr != nil {
		return errors.Join(err, endErr)
	}
	return err
}

func (r *run) cancel(ctx context.Context, cause error) error {
	r.transition(ctx, StateFailed)
	closed := r.rec.CloseOpen(trace.SpanStatusCancelled, cause.Error())
	ctxlog.From(ctx).Warn("agent run cancelled", "closed_spans", closed)
	return goerr.Wrap(ErrRunCancelled, "agent run stopped between steps", goerr.V("cause", cause.Error()))
}

// seal closes anything left open, seals the trace and hands it to the configured
// handler and repository. Their errors are logged only.
func (r *run) seal(ctx context.Context) {
	logger := ctxlog.From(ctx)
	if ids := r.rec.CloseOpen(trace.SpanStatusError, "run aborted"); len(ids) > 0 {
		logger.Error("closed dangling spans", "span_ids", ids)
	}
	tr := r.rec.Seal()
	r.result.Trace = tr

	ctx = context.WithoutCancel(ctx)
	if h := r.agent.cfg.handler; h != nil {
		if err := h.Finish(ctx, tr); err != nil {
			logger.Warn("trace handler failed", "error", err)
		}
	}
	if repo := r.agent.cfg.repository; repo != nil {
		if err := repo.Save(ctx, tr); err != nil {
			logger.Warn("failed to save trace", "error", err)
		}
	}
}

// DefaultResponder answers with the results of the successful tool calls, one
// line per tool, or states that no tool was used.
func DefaultResponder(_ context.Context, query string, invocations []*ToolInvocation) (string, error) {
	var lines []string
	for _, inv := range invocations {
		if !inv.Succeeded() {
			continue
		}
		raw, err := json.Marshal(inv.Result)
		if err != nil {
			return "", goerr.Wrap(err, "failed to encode tool result", goerr.V("tool_id", inv.ToolID))
		}
		lines = append(lines, inv.ToolID+": "+string(raw))
	}
	if len(lines) == 0 {
		return fmt.Sprintf("No tool was used to answer %q.", query), nil
	}
	return strings.Join(lines, "\n"), nil
}
