package trace

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// SpanKind represents the type of a span.
type SpanKind string

const (
	SpanKindAgent  SpanKind = "agent"
	SpanKindRouter SpanKind = "router"
	SpanKindTool   SpanKind = "tool"
)

// Valid reports whether the kind is one of the known span kinds.
func (x SpanKind) Valid() bool {
	switch x {
	case SpanKindAgent, SpanKindRouter, SpanKindTool:
		return true
	}
	return false
}

// SpanStatus represents the status of a span.
type SpanStatus string

const (
	SpanStatusOK        SpanStatus = "ok"
	SpanStatusError     SpanStatus = "error"
	SpanStatusCancelled SpanStatus = "cancelled"
)

// Attribute keys recorded by the agent loop. External dashboards and the evaluators
// read spans through these keys only.
const (
	AttrQuery             = "query"
	AttrAnswer            = "answer"
	AttrStep              = "step"
	AttrToolID            = "tool_id"
	AttrArguments         = "arguments"
	AttrResult            = "result"
	AttrRecoverable       = "recoverable"
	AttrConfidence        = "confidence"
	AttrRationale         = "rationale"
	AttrScores            = "scores"
	AttrStepLimitExceeded = "step_limit_exceeded"
	AttrFallback          = "fallback"
	AttrError             = "error"
)

// Trace is the ordered set of spans recorded for one agent run.
type Trace struct {
	TraceID   string        `json:"trace_id"`
	Metadata  TraceMetadata `json:"metadata"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Spans     []*Span       `json:"spans"`
}

// TraceMetadata holds metadata for a trace.
type TraceMetadata struct {
	Query  string            `json:"query,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Span is a single timed operation. Spans reference their parent by ID, so a
// Trace serializes to a flat list of records.
type Span struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Kind       SpanKind       `json:"kind"`
	Label      string         `json:"label"`
	StartedAt  time.Time      `json:"start_time"`
	EndedAt    time.Time      `json:"end_time"`
	Status     SpanStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`

	// TraceID names the recorder that produced the span. It lets handlers shared
	// by concurrent runs tell spans apart and is not serialized.
	TraceID string `json:"-"`
}

// Closed reports whether the span has an end time.
func (x *Span) Closed() bool {
	return !x.EndedAt.IsZero()
}

// Duration returns the elapsed time of a closed span, or zero for an open one.
func (x *Span) Duration() time.Duration {
	if !x.Closed() {
		return 0
	}
	return x.EndedAt.Sub(x.StartedAt)
}

// Attr returns the attribute value for key, or nil.
func (x *Span) Attr(key string) any {
	if x.Attributes == nil {
		return nil
	}
	return x.Attributes[key]
}

// AttrString returns the attribute value for key if it is a string.
func (x *Span) AttrString(key string) string {
	s, _ := x.Attr(key).(string)
	return s
}

func (x *Span) clone() *Span {
	c := *x
	if x.Attributes != nil {
		c.Attributes = cloneMap(x.Attributes)
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

// cloneValue copies the containers attribute values are built from. Other
// values are returned as they are.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		if v == nil {
			return v
		}
		return cloneMap(v)
	case []any:
		if v == nil {
			return v
		}
		c := make([]any, len(v))
		for i, e := range v {
			c[i] = cloneValue(e)
		}
		return c
	case []map[string]any:
		if v == nil {
			return v
		}
		c := make([]map[string]any, len(v))
		for i, e := range v {
			if e != nil {
				c[i] = cloneMap(e)
			}
		}
		return c
	case map[string]string:
		return maps.Clone(v)
	case []string:
		return slices.Clone(v)
	case []float64:
		return slices.Clone(v)
	case []int:
		return slices.Clone(v)
	default:
		return v
	}
}

// Root returns the span without a parent. Returns nil if the trace is empty.
func (x *Trace) Root() *Span {
	for _, s := range x.Spans {
		if s.ParentID == "" {
			return s
		}
	}
	return nil
}

// Find returns the span with the given ID, or nil.
func (x *Trace) Find(id string) *Span {
	for _, s := range x.Spans {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Children returns direct children of the span in opening order.
func (x *Trace) Children(id string) []*Span {
	var children []*Span
	for _, s := range x.Spans {
		if s.ParentID == id {
			children = append(children, s)
		}
	}
	return children
}

// SpansOfKind returns spans of the given kind ordered by start time. Spans that
// started at the same instant keep their opening order.
func (x *Trace) SpansOfKind(kind SpanKind) []*Span {
	var spans []*Span
	for _, s := range x.Spans {
		if s.Kind == kind {
			spans = append(spans, s)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartedAt.Before(spans[j].StartedAt)
	})
	return spans
}

// Validate checks the structural invariants of a completed trace: exactly one root,
// unique IDs, every parent reference resolves to a span opened no later than the child,
// and every span is closed with end time not before start time.
func (x *Trace) Validate() error {
	if x == nil {
		return goerr.Wrap(ErrMalformedTrace, "trace is nil")
	}

	index := make(map[string]int, len(x.Spans))
	roots := 0
	for i, s := range x.Spans {
		eb := goerr.NewBuilder(goerr.V("trace_id", x.TraceID), goerr.V("span_id", s.ID))
		if s.ID == "" {
			return eb.Wrap(ErrMalformedTrace, "span has no id")
		}
		if _, dup := index[s.ID]; dup {
			return eb.Wrap(ErrMalformedTrace, "duplicated span id")
		}
		if !s.Kind.Valid() {
			return eb.Wrap(ErrMalformedTrace, "unknown span kind", goerr.V("kind", s.Kind))
		}
		if s.ParentID == "" {
			roots++
		} else {
			p, ok := index[s.ParentID]
			if !ok {
				return eb.Wrap(ErrMalformedTrace, "parent not found before child", goerr.V("parent_id", s.ParentID))
			}
			if x.Spans[p].StartedAt.After(s.StartedAt) {
				return eb.Wrap(ErrMalformedTrace, "parent started after child", goerr.V("parent_id", s.ParentID))
			}
		}
		if !s.Closed() {
			return eb.Wrap(ErrMalformedTrace, "span is not closed")
		}
		if s.EndedAt.Before(s.StartedAt) {
			return eb.Wrap(ErrMalformedTrace, "span ends before it starts")
		}
		index[s.ID] = i
	}

	if roots != 1 {
		return goerr.Wrap(ErrMalformedTrace, "trace must have exactly one root span",
			goerr.V("trace_id", x.TraceID), goerr.V("roots", roots))
	}
	return nil
}
