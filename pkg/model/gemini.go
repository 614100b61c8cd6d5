package model

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel  = "gemini-2.0-flash"
	geminiMaxRetries    = 5
	geminiBaseDelay     = 1 * time.Second
	geminiMaxDelay      = 32 * time.Second
	geminiJitterFactor  = 0.3
	geminiClientTimeout = 30 * time.Second
)

// GeminiConfig configures a GeminiClient
type GeminiConfig struct {
	// APIKey selects the Gemini API backend
	APIKey string

	// Project and Location select the Vertex AI backend when APIKey is
	// empty. Location defaults to us-central1.
	Project  string
	Location string

	// Model overrides the default model
	Model string
}

// GeminiClient implements Client using the Google Gen AI SDK
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiClient creates a new Gemini client. With an API key it talks to
// the Gemini API; with a project ID it talks to Vertex AI using Application
// Default Credentials.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), geminiClientTimeout)
	defer cancel()

	clientConfig := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		clientConfig.APIKey = cfg.APIKey
		clientConfig.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		clientConfig.Project = cfg.Project
		clientConfig.Location = cfg.Location
		if clientConfig.Location == "" {
			clientConfig.Location = "us-central1"
		}
		clientConfig.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini requires an API key or a project ID")
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}

	return &GeminiClient{client: client, defaultModel: model}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	options := buildOptions(c.defaultModel, opts)

	config := &genai.GenerateContentConfig{}
	config.Temperature = genai.Ptr(float32(options.Temperature))
	if options.TopP > 0 {
		config.TopP = genai.Ptr(float32(options.TopP))
	}
	if options.MaxTokens > 0 && options.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(options.MaxTokens)
	}
	if len(options.Stop) > 0 {
		config.StopSequences = options.Stop
	}

	contents, systemInstruction := buildGeminiContents(messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	var resp *genai.GenerateContentResponse
	var err error

	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := geminiBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err = c.client.Models.GenerateContent(ctx, options.Model, contents, config)
		if err == nil {
			break
		}

		if !isRetryableGeminiError(err) {
			return nil, wrapGeminiError(err)
		}
	}

	if err != nil {
		return nil, wrapGeminiError(err)
	}

	return parseGeminiResponse(options.Model, resp)
}

func (c *GeminiClient) Provider() string {
	return "gemini"
}

// Close implements Client. The genai client does not expose a Close method;
// its resources are managed by the SDK.
func (c *GeminiClient) Close() error {
	return nil
}

// buildGeminiContents converts messages to Gen AI content format. System
// messages become the system instruction (last one wins); the assistant
// role maps to "model"; tool results ride along as user text.
func buildGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
			continue
		}

		role := m.Role
		switch role {
		case "assistant":
			role = "model"
		case "tool":
			role = "user"
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	return contents, systemInstruction
}

func parseGeminiResponse(model string, resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &ProviderError{Provider: "gemini", Message: "no candidates in response"}
	}

	candidate := resp.Candidates[0]
	var content string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	finishReason := string(candidate.FinishReason)
	if finishReason == "STOP" || finishReason == "" {
		finishReason = "stop"
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{
		Content:      content,
		FinishReason: finishReason,
		Model:        model,
		Usage:        usage,
	}, nil
}

func wrapGeminiError(err error) error {
	if err == nil {
		return nil
	}

	return &ProviderError{
		Provider:  "gemini",
		Message:   err.Error(),
		Retryable: isRetryableGeminiError(err),
		Err:       err,
	}
}

func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline") ||
		strings.Contains(errMsg, "unavailable")
}

// geminiBackoff returns the backoff duration with jitter for a given attempt
func geminiBackoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 31 {
		shift = 31
	}
	delay := time.Duration(1<<uint(shift)) * geminiBaseDelay
	if delay > geminiMaxDelay {
		delay = geminiMaxDelay
	}
	jitter := time.Duration(float64(delay) * geminiJitterFactor * (cryptoRandFloat64()*2 - 1))
	return delay + jitter
}

// cryptoRandFloat64 returns a random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}
