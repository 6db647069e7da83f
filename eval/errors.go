package eval

import "github.com/m-mizutani/goerr/v2"

// Evaluators return these only for unusable input. A mismatch is a low score.
var (
	ErrInvalidExpectation = goerr.New("invalid expectation")
	ErrMalformedTrace     = goerr.New("malformed trace")
)
