package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const openaiDefaultModel = "gpt-4o-mini"

// ChatCompletionAPI is the subset of the OpenAI client used here.
// Satisfied by *openai.Client and by fakes in tests.
type ChatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client on top of the OpenAI chat completions API
type OpenAIClient struct {
	api          ChatCompletionAPI
	defaultModel string
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &OpenAIClient{
		api:          openai.NewClient(apiKey),
		defaultModel: openaiDefaultModel,
	}, nil
}

// NewOpenAIClientWith creates an OpenAI client backed by a custom API
// implementation, used by tests and OpenAI-compatible endpoints
func NewOpenAIClientWith(api ChatCompletionAPI, defaultModel string) *OpenAIClient {
	if defaultModel == "" {
		defaultModel = openaiDefaultModel
	}
	return &OpenAIClient{api: api, defaultModel: defaultModel}
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	options := buildOptions(c.defaultModel, opts)

	req := openai.ChatCompletionRequest{
		Model:       options.Model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens:   options.MaxTokens,
		Temperature: float32(options.Temperature),
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAIClient) Provider() string {
	return "openai"
}

func (c *OpenAIClient) Close() error {
	return nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Retryable:  apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500,
			Err:        err,
		}
	}
	// Transport-level failures are worth retrying
	return &ProviderError{Provider: "openai", Message: err.Error(), Retryable: true, Err: err}
}
