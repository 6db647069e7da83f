package trace_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/gt"
)

type errHandler struct {
	capturingHandler
	err error
}

func (h *errHandler) Finish(_ context.Context, _ *trace.Trace) error { return h.err }

func TestMultiHandlerFanOut(t *testing.T) {
	h1 := &capturingHandler{}
	h2 := &capturingHandler{}
	rec := trace.New(trace.WithHandler(trace.Multi(h1, nil, h2)))

	root, err := rec.Open("", trace.SpanKindAgent, "agent_run", nil)
	gt.NoError(t, err)
	tool, err := rec.Open(root, trace.SpanKindTool, "lookup", nil)
	gt.NoError(t, err)
	gt.NoError(t, rec.Close(tool, trace.SpanStatusOK, nil))
	gt.NoError(t, rec.Close(root, trace.SpanStatusOK, nil))

	for _, h := range []*capturingHandler{h1, h2} {
		gt.Equal(t, h.opened, []string{"agent_run", "lookup"})
		gt.Equal(t, h.closed, []string{"lookup", "agent_run"})
	}
}

func TestMultiHandlerFinishJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	ok := &capturingHandler{}
	multi := trace.Multi(&errHandler{err: errA}, ok, &errHandler{err: errB})

	tr := &trace.Trace{TraceID: "x"}
	err := multi.Finish(context.Background(), tr)
	gt.True(t, errors.Is(err, errA))
	gt.True(t, errors.Is(err, errB))
	gt.A(t, ok.traces).Length(1)
}
