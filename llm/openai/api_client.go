package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// apiClient is the subset of the OpenAI API the scorer calls.
type apiClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type realAPIClient struct {
	client *openai.Client
}

func (r *realAPIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return r.client.CreateChatCompletion(ctx, req)
}
