package agenteval

import "github.com/m-mizutani/goerr/v2"

var (
	ErrInvalidTool      = goerr.New("invalid tool specification")
	ErrInvalidParameter = goerr.New("invalid parameter")
	ErrDuplicateTool    = goerr.New("tool is already registered")
	ErrUnknownTool      = goerr.New("unknown tool")
	ErrInvalidArguments = goerr.New("invalid tool arguments")

	ErrRoutingFailed       = goerr.New("routing failed")
	ErrToolExecutionFailed = goerr.New("tool execution failed")
	ErrToolTimeout         = goerr.New("tool execution timed out")
	ErrStepLimitExceeded   = goerr.New("step limit exceeded")
	ErrRunCancelled        = goerr.New("agent run cancelled")
	ErrResponseFailed      = goerr.New("failed to build response")
)
