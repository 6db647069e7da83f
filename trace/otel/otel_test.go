package otel_test

import (
	"testing"

	"github.com/m-mizutani/agenteval/trace"
	traceOtel "github.com/m-mizutani/agenteval/trace/otel"
	"github.com/m-mizutani/gt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkTrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestHandler() (trace.Handler, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdkTrace.NewTracerProvider(
		sdkTrace.WithSyncer(exporter),
	)
	h := traceOtel.New(traceOtel.WithTracerProvider(tp))
	return h, exporter
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOTelHandlerImplementsHandler(t *testing.T) {
	h, _ := setupTestHandler()
	_ = trace.Handler(h)
}

func TestOTelHandlerMirrorsSpans(t *testing.T) {
	h, exporter := setupTestHandler()
	rec := trace.New(trace.WithHandler(h))

	root, err := rec.Start(nil, trace.SpanKindAgent, "agent_run", map[string]any{trace.AttrQuery: "q"})
	gt.NoError(t, err)
	tool, err := root.Start(trace.SpanKindTool, "lookup_sales_data", nil)
	gt.NoError(t, err)
	gt.NoError(t, tool.End(nil, map[string]any{
		trace.AttrToolID:    "lookup_sales_data",
		trace.AttrArguments: map[string]any{"prompt": "q"},
		trace.AttrStep:      1,
	}))
	gt.NoError(t, root.End(nil, nil))

	spans := exporter.GetSpans()
	gt.Equal(t, len(spans), 2)

	// children end first
	gt.Equal(t, spans[0].Name, "tool:lookup_sales_data")
	gt.Equal(t, spans[1].Name, "agent_run")
	gt.Equal(t, spans[0].Parent.SpanID(), spans[1].SpanContext.SpanID())
	gt.Equal(t, spans[0].Status.Code, codes.Ok)

	v, ok := attrValue(spans[0].Attributes, "agenteval.tool_id")
	gt.True(t, ok)
	gt.Equal(t, v.AsString(), "lookup_sales_data")

	v, ok = attrValue(spans[0].Attributes, "agenteval.arguments")
	gt.True(t, ok)
	gt.Equal(t, v.AsString(), `{"prompt":"q"}`)

	v, ok = attrValue(spans[0].Attributes, "agenteval.step")
	gt.True(t, ok)
	gt.Equal(t, v.AsInt64(), int64(1))
}

func TestOTelHandlerErrorStatus(t *testing.T) {
	h, exporter := setupTestHandler()
	rec := trace.New(trace.WithHandler(h))

	id, err := rec.Open("", trace.SpanKindTool, "plot_chart", nil)
	gt.NoError(t, err)
	gt.NoError(t, rec.Close(id, trace.SpanStatusError, map[string]any{trace.AttrError: "no data"}))

	spans := exporter.GetSpans()
	gt.Equal(t, len(spans), 1)
	gt.Equal(t, spans[0].Status.Code, codes.Error)
	gt.Equal(t, spans[0].Status.Description, "no data")
}

func TestOTelHandlerCancelled(t *testing.T) {
	h, exporter := setupTestHandler()
	rec := trace.New(trace.WithHandler(h))

	root, err := rec.Open("", trace.SpanKindAgent, "agent_run", nil)
	gt.NoError(t, err)
	_, err = rec.Open(root, trace.SpanKindRouter, "router", nil)
	gt.NoError(t, err)
	rec.CloseOpen(trace.SpanStatusCancelled, "context canceled")

	spans := exporter.GetSpans()
	gt.Equal(t, len(spans), 2)
	for _, s := range spans {
		v, ok := attrValue(s.Attributes, "agenteval.status")
		gt.True(t, ok)
		gt.Equal(t, v.AsString(), "cancelled")
	}
}

func TestOTelHandlerSharedAcrossRuns(t *testing.T) {
	h, exporter := setupTestHandler()
	recA := trace.New(trace.WithHandler(h), trace.WithTraceID("run-a"), trace.WithIDGenerator(trace.SequentialIDs()))
	recB := trace.New(trace.WithHandler(h), trace.WithTraceID("run-b"), trace.WithIDGenerator(trace.SequentialIDs()))

	// both recorders hand out the same span IDs
	rootA, err := recA.Open("", trace.SpanKindAgent, "run_a", nil)
	gt.NoError(t, err)
	rootB, err := recB.Open("", trace.SpanKindAgent, "run_b", nil)
	gt.NoError(t, err)
	gt.Equal(t, rootA, rootB)

	toolA, err := recA.Open(rootA, trace.SpanKindTool, "tool_a", nil)
	gt.NoError(t, err)
	toolB, err := recB.Open(rootB, trace.SpanKindTool, "tool_b", nil)
	gt.NoError(t, err)

	gt.NoError(t, recA.Close(toolA, trace.SpanStatusOK, nil))
	gt.NoError(t, recB.Close(toolB, trace.SpanStatusOK, nil))
	gt.NoError(t, recA.Close(rootA, trace.SpanStatusOK, nil))
	gt.NoError(t, recB.Close(rootB, trace.SpanStatusOK, nil))

	byName := map[string]tracetest.SpanStub{}
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s
	}
	gt.Equal(t, len(byName), 4)
	gt.Equal(t, byName["tool:tool_a"].Parent.SpanID(), byName["run_a"].SpanContext.SpanID())
	gt.Equal(t, byName["tool:tool_b"].Parent.SpanID(), byName["run_b"].SpanContext.SpanID())
	gt.NotEqual(t, byName["run_a"].SpanContext.TraceID(), byName["run_b"].SpanContext.TraceID())
}
