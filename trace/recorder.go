package trace

import (
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithMetadata sets the metadata for the trace.
func WithMetadata(meta TraceMetadata) Option {
	return func(r *Recorder) {
		r.metadata = meta
	}
}

// WithTraceID sets a custom trace ID.
// If not set or set to an empty string, a UUID v7 is generated automatically.
func WithTraceID(id string) Option {
	return func(r *Recorder) {
		r.traceID = id
	}
}

// WithClock replaces time.Now as the source of span timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// WithIDGenerator replaces the UUID span ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) {
		r.newID = gen
	}
}

// SequentialIDs returns an ID generator producing "span-1", "span-2", ... It is
// useful when two runs must produce byte-identical traces.
func SequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return "span-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// WithHandler forwards span lifecycle events to h.
func WithHandler(h Handler) Option {
	return func(r *Recorder) {
		r.handler = h
	}
}

// Recorder collects the spans of one agent run. A Recorder must not be shared
// between runs; the mutex only protects against handlers or inspection code
// reading a snapshot while the owning run writes.
type Recorder struct {
	mu        sync.Mutex
	traceID   string
	metadata  TraceMetadata
	spans     []*Span
	index     map[string]*Span
	sealed    bool
	startedAt time.Time
	endedAt   time.Time

	clock   func() time.Time
	newID   func() string
	handler Handler
}

// New creates a new Recorder with the given options.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		index: make(map[string]*Span),
		clock: time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.traceID == "" {
		r.traceID = uuid.Must(uuid.NewV7()).String()
	}
	return r
}

// TraceID returns the ID of the trace being recorded.
func (r *Recorder) TraceID() string {
	return r.traceID
}

// Open starts a new span and returns its ID. An empty parentID opens a root span.
// A non-empty parentID must reference a span that exists and is still open.
func (r *Recorder) Open(parentID string, kind SpanKind, label string, attrs map[string]any) (string, error) {
	r.mu.Lock()

	if r.sealed {
		r.mu.Unlock()
		return "", goerr.Wrap(ErrSealed, "cannot open span", goerr.V("trace_id", r.traceID), goerr.V("label", label))
	}
	if !kind.Valid() {
		r.mu.Unlock()
		return "", goerr.Wrap(ErrInvalidKind, "cannot open span", goerr.V("kind", kind), goerr.V("label", label))
	}
	if parentID != "" {
		parent, ok := r.index[parentID]
		if !ok {
			r.mu.Unlock()
			return "", goerr.Wrap(ErrInvalidParent, "parent span not found", goerr.V("parent_id", parentID))
		}
		if parent.Closed() {
			r.mu.Unlock()
			return "", goerr.Wrap(ErrInvalidParent, "parent span is closed", goerr.V("parent_id", parentID))
		}
	}

	now := r.clock()
	span := &Span{
		ID:        r.newID(),
		TraceID:   r.traceID,
		ParentID:  parentID,
		Kind:      kind,
		Label:     label,
		StartedAt: now,
		Status:    SpanStatusOK,
	}
	if len(attrs) > 0 {
		span.Attributes = make(map[string]any, len(attrs))
		for k, v := range attrs {
			span.Attributes[k] = cloneValue(v)
		}
	}
	if _, dup := r.index[span.ID]; dup {
		r.mu.Unlock()
		return "", goerr.New("span id generator returned a duplicated id", goerr.V("span_id", span.ID))
	}

	if len(r.spans) == 0 {
		r.startedAt = now
	}
	r.spans = append(r.spans, span)
	r.index[span.ID] = span
	snapshot := span.clone()
	r.mu.Unlock()

	if r.handler != nil {
		r.handler.SpanOpened(snapshot)
	}
	return span.ID, nil
}

// SetAttributes merges attrs into an open span.
func (r *Recorder) SetAttributes(id string, attrs map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	span, ok := r.index[id]
	if !ok {
		return goerr.Wrap(ErrUnknownSpan, "cannot set attributes", goerr.V("span_id", id))
	}
	if span.Closed() {
		return goerr.Wrap(ErrAlreadyClosed, "cannot set attributes", goerr.V("span_id", id))
	}
	mergeAttributes(span, attrs)
	return nil
}

// Close ends an open span with the given status and extra attributes. A string
// value under AttrError is also copied into Span.Error.
func (r *Recorder) Close(id string, status SpanStatus, extra map[string]any) error {
	r.mu.Lock()

	if r.sealed {
		r.mu.Unlock()
		return goerr.Wrap(ErrSealed, "cannot close span", goerr.V("span_id", id))
	}
	span, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return goerr.Wrap(ErrUnknownSpan, "cannot close span", goerr.V("span_id", id))
	}
	if span.Closed() {
		r.mu.Unlock()
		return goerr.Wrap(ErrAlreadyClosed, "cannot close span", goerr.V("span_id", id), goerr.V("label", span.Label))
	}

	r.closeLocked(span, status, extra)
	snapshot := span.clone()
	r.mu.Unlock()

	if r.handler != nil {
		r.handler.SpanClosed(snapshot)
	}
	return nil
}

// CloseOpen closes every span that is still open, deepest first, and returns
// their IDs in closing order. It is used when a run is cancelled or aborted.
func (r *Recorder) CloseOpen(status SpanStatus, reason string) []string {
	r.mu.Lock()
	var closed []*Span
	if !r.sealed {
		for i := len(r.spans) - 1; i >= 0; i-- {
			span := r.spans[i]
			if span.Closed() {
				continue
			}
			var extra map[string]any
			if reason != "" {
				extra = map[string]any{AttrError: reason}
			}
			r.closeLocked(span, status, extra)
			closed = append(closed, span.clone())
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(closed))
	for _, s := range closed {
		if r.handler != nil {
			r.handler.SpanClosed(s)
		}
		ids = append(ids, s.ID)
	}
	return ids
}

// IsOpen reports whether the span exists and has not been closed.
func (r *Recorder) IsOpen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	span, ok := r.index[id]
	return ok && !span.Closed()
}

// Snapshot returns a deep copy of the trace recorded so far. It may be called
// at any time, including while spans are still open.
func (r *Recorder) Snapshot() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Seal marks the trace complete and returns its final copy. Any later Open or
// Close fails with ErrSealed. Sealing twice returns the same content.
func (r *Recorder) Seal() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sealed {
		r.sealed = true
		r.endedAt = r.clock()
		for _, s := range r.spans {
			if s.EndedAt.After(r.endedAt) {
				r.endedAt = s.EndedAt
			}
		}
	}
	return r.snapshotLocked()
}

func (r *Recorder) closeLocked(span *Span, status SpanStatus, extra map[string]any) {
	if status == "" {
		status = SpanStatusOK
	}
	now := r.clock()
	if now.Before(span.StartedAt) {
		now = span.StartedAt
	}
	span.EndedAt = now
	span.Status = status
	mergeAttributes(span, extra)
	if msg, ok := extra[AttrError].(string); ok {
		span.Error = msg
	}
}

func (r *Recorder) snapshotLocked() *Trace {
	tr := &Trace{
		TraceID:   r.traceID,
		Metadata:  TraceMetadata{Query: r.metadata.Query, Labels: maps.Clone(r.metadata.Labels)},
		StartedAt: r.startedAt,
		EndedAt:   r.endedAt,
		Spans:     make([]*Span, len(r.spans)),
	}
	for i, s := range r.spans {
		tr.Spans[i] = s.clone()
	}
	return tr
}

func mergeAttributes(span *Span, attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	if span.Attributes == nil {
		span.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		span.Attributes[k] = cloneValue(v)
	}
}
