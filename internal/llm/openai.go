package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/pkg/models"
)

// OpenAIClient talks to the OpenAI chat-completion API, or to any local
// server speaking the same wire format (llama.cpp, vLLM, Ollama).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ Client = (*OpenAIClient)(nil)
var _ Streamer = (*OpenAIClient)(nil)
var _ ToolCaller = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI-compatible client from configuration.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (c *OpenAIClient) Provider() string { return "openai" }

func (c *OpenAIClient) Chat(ctx context.Context, messages []models.Message, temperature float32, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, messages []models.Message, temperature float32) (<-chan StreamChunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out <- StreamChunk{Err: fmt.Errorf("openai stream: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- StreamChunk{Text: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *OpenAIClient) ChatWithTools(ctx context.Context, messages []models.Message, tools []ToolSchema, temperature float32, toolChoice string) (string, []ToolCall, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	switch toolChoice {
	case "", "auto":
	case "none":
		req.ToolChoice = "none"
	default:
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolChoice},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("openai chat with tools: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("openai chat with tools: empty response")
	}
	choice := resp.Choices[0].Message

	var calls []ToolCall
	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return "", nil, fmt.Errorf("decode tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		calls = append(calls, ToolCall{Name: tc.Function.Name, Args: args})
	}
	return choice.Content, calls, nil
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
