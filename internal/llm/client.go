// Package llm abstracts the chat-completion backends hearthd can talk to.
//
// Consumers depend on the minimal Client interface. Optional capabilities
// (streaming, native tool calling) are separate interfaces so callers can
// branch with a type assertion instead of runtime feature flags.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/pkg/models"
)

// Client is the minimal chat-completion surface the agent loop requires.
// Implementations must be safe for concurrent use.
type Client interface {
	// Chat sends the messages and returns the full assistant reply.
	// maxTokens <= 0 uses the provider default.
	Chat(ctx context.Context, messages []models.Message, temperature float32, maxTokens int) (string, error)

	// Provider returns a short provider name for logs and metrics.
	Provider() string
}

// StreamChunk is one increment of a streamed reply.
type StreamChunk struct {
	Text string
	Err  error
}

// Streamer is implemented by clients that can stream replies incrementally.
type Streamer interface {
	// Stream sends the messages and delivers the reply as chunks. The
	// channel is closed when the reply is complete; a chunk with Err set
	// terminates the stream.
	Stream(ctx context.Context, messages []models.Message, temperature float32) (<-chan StreamChunk, error)
}

// ToolCall is a native tool invocation requested by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolSchema describes one tool offered to a tool-calling model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
}

// ToolCaller is implemented by clients with native tool-call support. When a
// client does not implement it, the loop falls back to the structured-output
// parser path.
type ToolCaller interface {
	// ChatWithTools returns the assistant content plus any requested tool
	// calls. toolChoice is "auto", "none", or a specific tool name.
	ChatWithTools(ctx context.Context, messages []models.Message, tools []ToolSchema, temperature float32, toolChoice string) (string, []ToolCall, error)
}

// New builds a client from configuration.
func New(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
