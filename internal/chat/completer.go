package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Completer sends one system+user exchange to a language model and returns
// its text reply.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, message string) (string, error)
}

// Default models.
const (
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"
)

const classifyTemperature = 0.1

// OpenAICompleter talks to the OpenAI chat completions API.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI completer. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model string) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}
}

// Name implements Completer.
func (c *OpenAICompleter) Name() string { return "openai" }

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, system, message string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(message),
		},
		Temperature: openai.Float(classifyTemperature),
		MaxTokens:   openai.Int(200),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return completion.Choices[0].Message.Content, nil
}

// bedrockInvoker is the slice of the Bedrock runtime client used here.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockCompleter invokes an Anthropic model on AWS Bedrock.
type BedrockCompleter struct {
	client bedrockInvoker
	model  string
}

// NewBedrock creates a Bedrock completer using the default AWS credential
// chain. region defaults to us-east-1.
func NewBedrock(ctx context.Context, region, model string) (*BedrockCompleter, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(cfg), model), nil
}

func newBedrock(client bedrockInvoker, model string) *BedrockCompleter {
	if model == "" {
		model = DefaultBedrockModel
	}
	return &BedrockCompleter{client: client, model: model}
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Name implements Completer.
func (c *BedrockCompleter) Name() string { return "bedrock" }

// Complete implements Completer.
func (c *BedrockCompleter) Complete(ctx context.Context, system, message string) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        200,
		System:           system,
		Messages:         []bedrockMessage{{Role: "user", Content: message}},
		Temperature:      classifyTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke failed: %w", err)
	}
	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	var sb strings.Builder
	for _, part := range resp.Content {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
