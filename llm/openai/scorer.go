package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

var (
	promptScope   = ctxlog.NewScope("openai_prompt", ctxlog.EnabledBy("AGENTEVAL_LOGGING_OPENAI_PROMPT"))
	responseScope = ctxlog.NewScope("openai_response", ctxlog.EnabledBy("AGENTEVAL_LOGGING_OPENAI_RESPONSE"))
)

const (
	DefaultModel = "gpt-4o-mini"

	DefaultSystemPrompt = "You route user requests to tools. Call at most one tool that moves the request forward. " +
		"If the results already gathered answer the request, call no tool."
)

// Scorer routes through OpenAI tool calling. The tool the model calls scores 1
// and every other candidate scores 0; if the model calls no tool all
// candidates score 0.
type Scorer struct {
	client       apiClient
	model        string
	baseURL      string
	systemPrompt string
	temperature  float32
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithModel sets the chat model. See [DefaultModel].
func WithModel(model string) Option {
	return func(s *Scorer) {
		s.model = model
	}
}

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) Option {
	return func(s *Scorer) {
		s.systemPrompt = prompt
	}
}

// WithBaseURL sets a custom API endpoint for compatible servers or proxies.
func WithBaseURL(url string) Option {
	return func(s *Scorer) {
		s.baseURL = url
	}
}

// WithTemperature sets the sampling temperature. Default is 0.
func WithTemperature(temp float32) Option {
	return func(s *Scorer) {
		s.temperature = temp
	}
}

// New creates a scorer for the OpenAI API.
func New(apiKey string, options ...Option) (*Scorer, error) {
	if apiKey == "" {
		return nil, goerr.New("OpenAI API key is required")
	}

	s := newScorer(options...)
	config := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		config.BaseURL = s.baseURL
	}
	s.client = &realAPIClient{client: openai.NewClientWithConfig(config)}
	return s, nil
}

// NewWithClient creates a scorer on an existing go-openai client.
func NewWithClient(client *openai.Client, options ...Option) *Scorer {
	s := newScorer(options...)
	s.client = &realAPIClient{client: client}
	return s
}

func newScorer(options ...Option) *Scorer {
	s := &Scorer{
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Score implements agenteval.Scorer.
func (s *Scorer) Score(ctx context.Context, in agenteval.RouteInput, candidates []agenteval.ToolSpec) ([]agenteval.Score, error) {
	messages, err := buildMessages(s.systemPrompt, in)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Tools:       convertTools(candidates),
		Temperature: s.temperature,
	}

	ctxlog.From(ctx, promptScope).Debug("openai routing request",
		"model", s.model,
		"step", in.Step,
		"messages", len(messages),
		"tools", len(req.Tools),
	)

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", s.model))
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.New("no choices in chat completion response", goerr.V("model", s.model))
	}

	msg := resp.Choices[0].Message
	ctxlog.From(ctx, responseScope).Debug("openai routing response",
		"content", msg.Content,
		"tool_calls", len(msg.ToolCalls),
		"finish_reason", resp.Choices[0].FinishReason,
	)

	scores := make([]agenteval.Score, len(candidates))
	for i := range scores {
		scores[i].Reason = "not called by model"
	}
	if len(msg.ToolCalls) == 0 {
		for i := range scores {
			scores[i].Reason = "model answered without a tool"
		}
		return scores, nil
	}

	// Only the first call counts; the agent executes one tool per step.
	call := msg.ToolCalls[0]
	idx := -1
	for i, c := range candidates {
		if c.Name == call.Function.Name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, goerr.New("model called an unknown tool", goerr.V("tool_id", call.Function.Name))
	}

	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, goerr.Wrap(err, "failed to parse tool call arguments",
				goerr.V("tool_id", call.Function.Name),
				goerr.V("arguments", call.Function.Arguments))
		}
	}

	scores[idx] = agenteval.Score{Value: 1, Arguments: args, Reason: "called by model"}
	return scores, nil
}

// buildMessages replays the run so far: the user query, then one assistant tool
// call and one tool message per invocation.
func buildMessages(systemPrompt string, in agenteval.RouteInput) ([]openai.ChatCompletionMessage, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: in.Query},
	}

	for _, inv := range in.Invocations {
		args, err := json.Marshal(inv.Arguments)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool arguments", goerr.V("tool_id", inv.ToolID))
		}
		callID := fmt.Sprintf("call_%d", inv.Step)
		if inv.SpanID != "" {
			callID = "call_" + inv.SpanID
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{
				{
					ID:   callID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      inv.ToolID,
						Arguments: string(args),
					},
				},
			},
		})

		content := ""
		if inv.Succeeded() {
			data, err := json.Marshal(inv.Result)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to marshal tool result", goerr.V("tool_id", inv.ToolID))
			}
			content = string(data)
		} else {
			content = fmt.Sprintf("Error message: %s", inv.Error)
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    content,
			ToolCallID: callID,
		})
	}

	return messages, nil
}

func convertTools(specs []agenteval.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.JSONSchema(),
			},
		}
	}
	return tools
}
