package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/pkg/models"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

var _ Client = (*AnthropicClient)(nil)
var _ Streamer = (*AnthropicClient)(nil)

// NewAnthropicClient creates an Anthropic client from configuration.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (c *AnthropicClient) Provider() string { return "anthropic" }

func (c *AnthropicClient) Chat(ctx context.Context, messages []models.Message, temperature float32, maxTokens int) (string, error) {
	params := c.params(messages, temperature, maxTokens)
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic chat: empty response")
	}
	return sb.String(), nil
}

func (c *AnthropicClient) Stream(ctx context.Context, messages []models.Message, temperature float32) (<-chan StreamChunk, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(messages, temperature, 0))
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					select {
					case out <- StreamChunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("anthropic stream: %w", err)}
		}
	}()
	return out, nil
}

func (c *AnthropicClient) params(messages []models.Message, temperature float32, maxTokens int) anthropic.MessageNewParams {
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(temperature)),
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case models.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params
}
