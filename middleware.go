package agenteval

import (
	"context"
)

// ToolMiddleware wraps a ToolHandler to add behavior around tool execution, such
// as argument rewriting, caching or result redaction.
type ToolMiddleware func(next ToolHandler) ToolHandler

// ToolHandler handles tool execution requests.
type ToolHandler func(ctx context.Context, req *ToolExecRequest) (*ToolExecResponse, error)

// ToolExecRequest represents a tool execution request.
type ToolExecRequest struct {
	ToolID    string
	Step      int
	Arguments map[string]any
	Spec      ToolSpec
}

// ToolExecResponse represents a tool execution response.
type ToolExecResponse struct {
	Result map[string]any
}

// buildToolChain applies middlewares so that the first one runs outermost.
func buildToolChain(middlewares []ToolMiddleware, handler ToolHandler) ToolHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func runToolHandler(tool Tool) ToolHandler {
	return func(ctx context.Context, req *ToolExecRequest) (*ToolExecResponse, error) {
		result, err := tool.Run(ctx, req.Arguments)
		if err != nil {
			return nil, err
		}
		return &ToolExecResponse{Result: result}, nil
	}
}
