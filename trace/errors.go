package trace

import "github.com/m-mizutani/goerr/v2"

// Recorder misuse errors indicate a broken caller contract. They are returned to
// the call site and never recovered inside this package.
var (
	ErrInvalidParent  = goerr.New("invalid parent span")
	ErrUnknownSpan    = goerr.New("unknown span")
	ErrAlreadyClosed  = goerr.New("span already closed")
	ErrInvalidKind    = goerr.New("invalid span kind")
	ErrSealed         = goerr.New("trace is sealed")
	ErrMalformedTrace = goerr.New("malformed trace")
	ErrTraceNotFound  = goerr.New("trace not found")
)
