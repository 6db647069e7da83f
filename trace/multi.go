package trace

import (
	"context"
	"errors"
)

// multiHandler fans out span events to multiple Handler implementations.
type multiHandler struct {
	handlers []Handler
}

// Multi creates a Handler that forwards all events to the given handlers in order.
// Nil handlers are skipped.
func Multi(handlers ...Handler) Handler {
	hs := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) SpanOpened(span *Span) {
	for _, h := range m.handlers {
		h.SpanOpened(span.clone())
	}
}

func (m *multiHandler) SpanClosed(span *Span) {
	for _, h := range m.handlers {
		h.SpanClosed(span.clone())
	}
}

func (m *multiHandler) Finish(ctx context.Context, tr *Trace) error {
	var errs []error
	for _, h := range m.handlers {
		if err := h.Finish(ctx, tr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
