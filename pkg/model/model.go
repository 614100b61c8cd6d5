// Package model provides chat completion clients for the providers engram
// can drive: OpenAI, AWS Bedrock, Google Gemini, and a scripted mock for
// tests and offline use. Decorators add rate limiting and instrumentation
// around any Client.
package model

import "context"

// Client is the minimal surface the memory pipeline needs from a chat
// model: given the conversation so far, produce the next assistant message.
type Client interface {
	// Complete generates the next assistant message for the conversation
	Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error)

	// Provider returns the provider name ("openai", "bedrock", "gemini", "mock")
	Provider() string

	// Close releases any resources held by the client
	Close() error
}

// Message represents a chat message
type Message struct {
	Role    string // system, user, assistant, tool
	Content string
}

// Response represents a model response
type Response struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

// Usage tracks token usage reported by the provider
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Options holds generation options
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

// Option is a functional option for completion requests
type Option func(*Options)

// WithModel sets the model to use
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithMaxTokens sets the maximum tokens to generate
func WithMaxTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxTokens = tokens
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

// WithTopP sets the top-p sampling parameter
func WithTopP(p float64) Option {
	return func(o *Options) {
		o.TopP = p
	}
}

// WithStop sets stop sequences
func WithStop(stop ...string) Option {
	return func(o *Options) {
		o.Stop = stop
	}
}

// buildOptions applies opts on top of the provider's default model
func buildOptions(defaultModel string, opts []Option) Options {
	options := Options{Model: defaultModel}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Model == "" {
		options.Model = defaultModel
	}
	return options
}
