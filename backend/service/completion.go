package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cpqbox/quote/backend/config"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// CompletionRequest is one structured-completion call: a system and a user
// message plus the JSON schema the answer must follow.
type CompletionRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     *jsonschema.Definition
}

// CompletionClient returns the raw JSON content of a structured completion
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// OpenAIClient implements CompletionClient with strict json_schema output
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

var _ CompletionClient = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg *config.OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("completion api error (status %d, type %s): %w", apiErr.HTTPStatusCode, apiErr.Type, err)
		}
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("completion refused: %s", choice.Message.Refusal)
	}
	if choice.FinishReason == openai.FinishReasonLength {
		return "", errors.New("completion truncated by token limit")
	}
	return choice.Message.Content, nil
}
