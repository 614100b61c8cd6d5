package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const bedrockDefaultModel = "anthropic.claude-3-haiku-20240307-v1:0"

// ConverseAPI is the subset of the Bedrock runtime client used here.
// Satisfied by *bedrockruntime.Client and by fakes in tests.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client using the AWS Bedrock Converse API
type BedrockClient struct {
	api          ConverseAPI
	defaultModel string
}

// NewBedrockClient creates a new Bedrock client using the default AWS
// credential chain. An empty region falls back to the environment.
func NewBedrockClient(ctx context.Context, region, modelID string) (*BedrockClient, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if modelID == "" {
		modelID = bedrockDefaultModel
	}

	return &BedrockClient{
		api:          bedrockruntime.NewFromConfig(cfg),
		defaultModel: modelID,
	}, nil
}

// NewBedrockClientWith creates a Bedrock client backed by a custom Converse
// implementation, used by tests
func NewBedrockClientWith(api ConverseAPI, modelID string) *BedrockClient {
	if modelID == "" {
		modelID = bedrockDefaultModel
	}
	return &BedrockClient{api: api, defaultModel: modelID}
}

func (c *BedrockClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	options := buildOptions(c.defaultModel, opts)

	system, turns := buildConverseInput(messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(options.Model),
		Messages: turns,
		System:   system,
	}

	inference := &types.InferenceConfiguration{}
	configured := false
	if options.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(options.MaxTokens))
		configured = true
	}
	if options.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(options.Temperature))
		configured = true
	}
	if options.TopP > 0 {
		inference.TopP = aws.Float32(float32(options.TopP))
		configured = true
	}
	if len(options.Stop) > 0 {
		inference.StopSequences = options.Stop
		configured = true
	}
	if configured {
		input.InferenceConfig = inference
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError(err)
	}

	return parseConverseOutput(options.Model, out)
}

func (c *BedrockClient) Provider() string {
	return "bedrock"
}

func (c *BedrockClient) Close() error {
	return nil
}

// buildConverseInput separates system messages from conversation turns.
// Converse requires alternating user/assistant turns, so consecutive
// same-role messages merge into one turn with multiple content blocks.
func buildConverseInput(messages []Message) ([]types.SystemContentBlock, []types.Message) {
	var system []types.SystemContentBlock
	var turns []types.Message

	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}

		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}

		block := &types.ContentBlockMemberText{Value: m.Content}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = append(turns[n-1].Content, block)
			continue
		}

		turns = append(turns, types.Message{
			Role:    role,
			Content: []types.ContentBlock{block},
		})
	}

	return system, turns
}

func parseConverseOutput(model string, out *bedrockruntime.ConverseOutput) (*Response, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, &ProviderError{Provider: "bedrock", Message: "unexpected output type in response"}
	}

	var content string
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			content += text.Value
		}
	}

	finishReason := string(out.StopReason)
	if finishReason == string(types.StopReasonEndTurn) || finishReason == "" {
		finishReason = "stop"
	}

	var usage Usage
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	return &Response{
		Content:      content,
		FinishReason: finishReason,
		Model:        model,
		Usage:        usage,
	}, nil
}

func wrapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	errMsg := strings.ToLower(err.Error())
	retryable := strings.Contains(errMsg, "throttl") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "unavailable")

	return &ProviderError{
		Provider:  "bedrock",
		Message:   err.Error(),
		Retryable: retryable,
		Err:       err,
	}
}

// ListBedrockModelIDs returns the foundation model IDs available in the
// given region, sorted, using the Bedrock control plane
func ListBedrockModelIDs(ctx context.Context, region string) ([]string, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := bedrock.NewFromConfig(cfg)
	resp, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, wrapBedrockError(err)
	}

	ids := make([]string, 0, len(resp.ModelSummaries))
	for _, summary := range resp.ModelSummaries {
		ids = append(ids, aws.ToString(summary.ModelId))
	}
	sort.Strings(ids)
	return ids, nil
}
