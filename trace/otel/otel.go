// Package otel provides an OpenTelemetry trace handler for agenteval.
//
// It mirrors recorded spans into OpenTelemetry spans, allowing integration with
// any OTel-compatible backend (Jaeger, Zipkin, OTLP, etc.).
//
// Basic usage with global TracerProvider:
//
//	agent := agenteval.New(registry, agenteval.WithHandler(otel.New()))
//
// With explicit TracerProvider:
//
//	agent := agenteval.New(registry, agenteval.WithHandler(
//	    otel.New(otel.WithTracerProvider(tp)),
//	))
package otel

import (
	"context"
	"sync"

	"github.com/m-mizutani/agenteval/trace"
	otelAPI "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/m-mizutani/agenteval"
)

// Option is a functional option for configuring the OTel handler.
type Option func(*handler)

// WithTracerProvider sets an explicit TracerProvider.
// If not set, the global TracerProvider is used.
func WithTracerProvider(tp otelTrace.TracerProvider) Option {
	return func(h *handler) {
		h.tracerProvider = tp
	}
}

// WithParentContext makes root spans children of the span carried by ctx.
func WithParentContext(ctx context.Context) Option {
	return func(h *handler) {
		h.base = ctx
	}
}

// handler implements trace.Handler by bridging span events to OpenTelemetry spans.
// One handler may serve many concurrent runs, so spans are keyed by trace and span ID.
type handler struct {
	tracerProvider otelTrace.TracerProvider
	tracer         otelTrace.Tracer
	base           context.Context

	mu    sync.Mutex
	spans map[string]context.Context
}

// New creates a new OTel trace handler.
// If no TracerProvider is specified via options, the global TracerProvider is used.
func New(opts ...Option) trace.Handler {
	h := &handler{
		base:  context.Background(),
		spans: make(map[string]context.Context),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.tracerProvider == nil {
		h.tracerProvider = otelAPI.GetTracerProvider()
	}
	h.tracer = h.tracerProvider.Tracer(tracerName)

	return h
}

func (h *handler) SpanOpened(span *trace.Span) {
	h.mu.Lock()
	defer h.mu.Unlock()

	parent := h.base
	if span.ParentID != "" {
		if ctx, ok := h.spans[spanKey(span.TraceID, span.ParentID)]; ok {
			parent = ctx
		}
	}

	ctx, _ := h.tracer.Start(parent, spanName(span),
		otelTrace.WithSpanKind(otelSpanKind(span.Kind)),
		otelTrace.WithTimestamp(span.StartedAt),
		otelTrace.WithAttributes(
			spanKindAttr(span.Kind),
			spanIDAttr(span.ID),
		),
	)
	h.spans[spanKey(span.TraceID, span.ID)] = ctx
}

func (h *handler) SpanClosed(span *trace.Span) {
	h.mu.Lock()
	key := spanKey(span.TraceID, span.ID)
	ctx, ok := h.spans[key]
	delete(h.spans, key)
	h.mu.Unlock()

	if !ok {
		return
	}

	otelSpan := otelTrace.SpanFromContext(ctx)
	otelSpan.SetAttributes(statusAttr(span.Status))
	otelSpan.SetAttributes(convertAttributes(span.Attributes)...)

	switch span.Status {
	case trace.SpanStatusError:
		otelSpan.SetStatus(codes.Error, span.Error)
	case trace.SpanStatusCancelled:
		otelSpan.SetStatus(codes.Error, "cancelled")
	default:
		otelSpan.SetStatus(codes.Ok, "")
	}
	otelSpan.End(otelTrace.WithTimestamp(span.EndedAt))
}

func (h *handler) Finish(_ context.Context, _ *trace.Trace) error {
	// OTel spans are exported by the TracerProvider's SpanProcessor.
	// No additional finalization is needed here.
	return nil
}

func spanKey(traceID, spanID string) string {
	return traceID + "/" + spanID
}

func spanName(span *trace.Span) string {
	switch span.Kind {
	case trace.SpanKindTool:
		return "tool:" + span.Label
	case trace.SpanKindRouter:
		return "router:" + span.Label
	default:
		return span.Label
	}
}

func otelSpanKind(kind trace.SpanKind) otelTrace.SpanKind {
	if kind == trace.SpanKindTool {
		return otelTrace.SpanKindClient
	}
	return otelTrace.SpanKindInternal
}
