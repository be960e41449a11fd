package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	anthropicMaxTokens    = 2048
)

// AnthropicClient はAnthropic Messages APIで生成を行う。
// SDK内部の再試行は無効化し、再試行は呼び出し元に任せる。
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	apiKey string
}

// NewAnthropicClient はAnthropicClientを生成する。
// optsはテストでのエンドポイント差し替えなどに使用する。
func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) *AnthropicClient {
	apiKey = strings.TrimSpace(apiKey)
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(reqOpts...),
		model:  anthropic.Model(model),
		apiKey: apiKey,
	}
}

// Generate はモデルを1回呼び出してArtifactsを返す。
func (c *AnthropicClient) Generate(ctx context.Context, in Input) (Artifacts, error) {
	if c.apiKey == "" {
		return Artifacts{}, fmt.Errorf("%w: ANTHROPIC_API_KEY", ErrNotConfigured)
	}
	prompt, err := BuildUserPrompt(in)
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: build prompt: %w", err)
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: anthropic messages: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return DecodeArtifacts(block.Text)
		}
	}
	return Artifacts{}, fmt.Errorf("%w: no text block in response", ErrIncompleteOutput)
}
