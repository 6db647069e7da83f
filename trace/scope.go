package trace

// Scope is a handle on one open span. The operation that starts a scope owns it
// and must end it on every exit path; the usual form is
//
//	sp, err := rec.Start(parent, trace.SpanKindTool, name, nil)
//	if err != nil {
//	    return err
//	}
//	defer sp.Finish(&err)
//
// End, Cancel and Finish close the span at most once through the same handle.
// Calling End twice returns ErrAlreadyClosed from the Recorder.
type Scope struct {
	rec  *Recorder
	id   string
	done bool
}

// Start opens a span under parent and returns its scope. A nil parent opens a root span.
func (r *Recorder) Start(parent *Scope, kind SpanKind, label string, attrs map[string]any) (*Scope, error) {
	parentID := ""
	if parent != nil {
		parentID = parent.id
	}
	id, err := r.Open(parentID, kind, label, attrs)
	if err != nil {
		return nil, err
	}
	return &Scope{rec: r, id: id}, nil
}

// ID returns the span ID.
func (x *Scope) ID() string { return x.id }

// Recorder returns the recorder owning the span.
func (x *Scope) Recorder() *Recorder { return x.rec }

// Start opens a child span.
func (x *Scope) Start(kind SpanKind, label string, attrs map[string]any) (*Scope, error) {
	return x.rec.Start(x, kind, label, attrs)
}

// Set adds one attribute to the open span.
func (x *Scope) Set(key string, value any) error {
	return x.rec.SetAttributes(x.id, map[string]any{key: value})
}

// End closes the span. A nil err closes it with status ok; otherwise the status is
// error and the message is recorded.
func (x *Scope) End(err error, extra map[string]any) error {
	status := SpanStatusOK
	if err != nil {
		status = SpanStatusError
		merged := make(map[string]any, len(extra)+1)
		for k, v := range extra {
			merged[k] = v
		}
		merged[AttrError] = err.Error()
		extra = merged
	}
	return x.close(status, extra)
}

// Cancel closes the span with status cancelled.
func (x *Scope) Cancel(reason string) error {
	var extra map[string]any
	if reason != "" {
		extra = map[string]any{AttrError: reason}
	}
	return x.close(SpanStatusCancelled, extra)
}

// Finish ends the span with *errp unless it was already ended through this scope
// or closed in bulk by Recorder.CloseOpen. It is meant to be deferred.
func (x *Scope) Finish(errp *error) {
	if x.done || !x.rec.IsOpen(x.id) {
		x.done = true
		return
	}
	var err error
	if errp != nil {
		err = *errp
	}
	_ = x.End(err, nil)
}

// Ended reports whether the span has been closed through this scope.
func (x *Scope) Ended() bool { return x.done }

func (x *Scope) close(status SpanStatus, extra map[string]any) error {
	if err := x.rec.Close(x.id, status, extra); err != nil {
		return err
	}
	x.done = true
	return nil
}
