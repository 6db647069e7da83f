package logger

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/agenteval/trace"
)

// Event represents a trace event type that can be selectively enabled.
type Event int

const (
	// AgentSpan enables logging of agent run start/end.
	AgentSpan Event = iota
	// RouterSpan enables logging of routing decisions.
	RouterSpan
	// ToolSpan enables logging of tool execution (name, args, result, duration).
	ToolSpan
	// TraceFinish enables logging of the sealed trace summary.
	TraceFinish

	eventCount // sentinel for iteration
)

type config struct {
	logger *slog.Logger
	events map[Event]bool
}

// Option configures the logger handler.
type Option func(*config)

// WithLogger sets a custom slog.Logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithEvents enables only the specified event types.
// When not specified, all events are enabled.
func WithEvents(events ...Event) Option {
	return func(c *config) {
		c.events = make(map[Event]bool, len(events))
		for _, e := range events {
			c.events[e] = true
		}
	}
}

// handler implements trace.Handler by logging span events via slog.
type handler struct {
	cfg config
}

// New creates a new trace.Handler that logs span events via slog.
// By default, all events are enabled. Use WithEvents to enable only specific events.
func New(opts ...Option) trace.Handler {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Default: all events enabled
	if cfg.events == nil {
		cfg.events = make(map[Event]bool, eventCount)
		for i := Event(0); i < eventCount; i++ {
			cfg.events[i] = true
		}
	}

	return &handler{cfg: cfg}
}

func (h *handler) logger() *slog.Logger {
	if h.cfg.logger != nil {
		return h.cfg.logger
	}
	return slog.Default()
}

func (h *handler) enabled(kind trace.SpanKind) bool {
	switch kind {
	case trace.SpanKindAgent:
		return h.cfg.events[AgentSpan]
	case trace.SpanKindRouter:
		return h.cfg.events[RouterSpan]
	case trace.SpanKindTool:
		return h.cfg.events[ToolSpan]
	}
	return false
}

// SpanOpened logs agent run start. Router and tool spans are logged on close only.
func (h *handler) SpanOpened(span *trace.Span) {
	if span.Kind != trace.SpanKindAgent || !h.enabled(span.Kind) {
		return
	}
	h.logger().Info("agent run started",
		slog.String("span_id", span.ID),
		slog.String("query", span.AttrString(trace.AttrQuery)),
	)
}

// SpanClosed logs the span with the attributes relevant to its kind.
func (h *handler) SpanClosed(span *trace.Span) {
	if !h.enabled(span.Kind) {
		return
	}

	attrs := []any{
		slog.String("span_id", span.ID),
		slog.String("status", string(span.Status)),
		slog.Duration("duration", span.Duration()),
	}
	if span.Error != "" {
		attrs = append(attrs, slog.String("error", span.Error))
	}

	switch span.Kind {
	case trace.SpanKindAgent:
		attrs = append(attrs, slog.Any("answer", span.Attr(trace.AttrAnswer)))
		h.logger().Info("agent run ended", attrs...)

	case trace.SpanKindRouter:
		attrs = append(attrs,
			slog.Any("tool_id", span.Attr(trace.AttrToolID)),
			slog.Any("confidence", span.Attr(trace.AttrConfidence)),
			slog.Any("rationale", span.Attr(trace.AttrRationale)),
		)
		h.logger().Info("routing decision", attrs...)

	case trace.SpanKindTool:
		attrs = append(attrs,
			slog.String("tool", span.Label),
			slog.Any("args", span.Attr(trace.AttrArguments)),
			slog.Any("result", span.Attr(trace.AttrResult)),
		)
		h.logger().Info("tool execution", attrs...)
	}
}

// Finish logs a one-line summary of the sealed trace.
func (h *handler) Finish(ctx context.Context, tr *trace.Trace) error {
	if !h.cfg.events[TraceFinish] || tr == nil {
		return nil
	}
	h.logger().InfoContext(ctx, "trace finished",
		slog.String("trace_id", tr.TraceID),
		slog.Int("spans", len(tr.Spans)),
		slog.Int("tool_calls", len(tr.SpansOfKind(trace.SpanKindTool))),
	)
	return nil
}
