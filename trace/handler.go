package trace

import "context"

// Handler is the interface for trace backends.
// A Recorder forwards a copy of every span when it is opened and when it is
// closed, and the agent calls Finish with the sealed trace once the run ends.
// Implementations must not retain or mutate the Recorder itself.
type Handler interface {
	// SpanOpened is called after a span has been opened.
	SpanOpened(span *Span)
	// SpanClosed is called after a span has been closed.
	SpanClosed(span *Span)
	// Finish completes the trace and performs any final operations.
	Finish(ctx context.Context, tr *Trace) error
}
