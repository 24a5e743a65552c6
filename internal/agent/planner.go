package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hearthd/hearth/internal/llm"
	"github.com/hearthd/hearth/internal/tools"
	"github.com/hearthd/hearth/pkg/models"
)

const (
	plannerTemperature = 0.1
	plannerMaxTokens   = 800
	plannerHistory     = 6
)

// Planner produces the next Action for a turn. It never executes tools and
// has no persistence side effects.
type Planner struct {
	client     llm.Client
	parser     *Parser
	dispatcher *tools.Dispatcher
	logger     *slog.Logger
}

// NewPlanner builds a planner. client may be nil, in which case planning
// degrades to the safe empty-final fallback.
func NewPlanner(client llm.Client, parser *Parser, dispatcher *tools.Dispatcher, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		client:     client,
		parser:     parser,
		dispatcher: dispatcher,
		logger:     logger.With("component", "planner"),
	}
}

// Next returns the next action for state. A pending decision on the state is
// consumed without a model call. Clients with native tool-call support are
// used as such; everything else goes through the structured-output parser.
func (p *Planner) Next(ctx context.Context, state *RunState, rc RunContext) Action {
	if decision, pending := state.TakePending(); pending {
		return translate(decision)
	}
	if state.Mode != ModeTask || p.client == nil {
		return Final("")
	}
	if caller, native := p.client.(llm.ToolCaller); native {
		return p.nextNative(ctx, caller, state, rc)
	}

	messages := p.buildMessages(state, rc)
	output, err := p.client.Chat(ctx, messages, plannerTemperature, plannerMaxTokens)
	if err != nil {
		p.logger.Warn("planning call failed", "error", err)
		return Final("")
	}
	decision := p.parser.Parse(output, state.LastAssistantOutput, rc.AllowedTools)
	return translate(decision)
}

// nextNative plans through the provider's tool-call API. The tool schemas go
// over the wire instead of being inlined into the system prompt; text-only
// replies still pass through the parser so need_info and final envelopes keep
// working.
func (p *Planner) nextNative(ctx context.Context, caller llm.ToolCaller, state *RunState, rc RunContext) Action {
	messages := p.nativeMessages(state)
	output, calls, err := caller.ChatWithTools(ctx, messages, p.toolSchemas(rc), plannerTemperature, "auto")
	if err != nil {
		p.logger.Warn("planning call failed", "error", err)
		return Final("")
	}
	if len(calls) > 0 {
		call := calls[0]
		if !allowedTool(call.Name, rc.AllowedTools) {
			p.logger.Warn("model requested tool outside allow-list", "tool", call.Name)
			return Final("")
		}
		return ToolCall(call.Name, call.Args)
	}
	decision := p.parser.Parse(output, state.LastAssistantOutput, rc.AllowedTools)
	if decision.Kind == DecisionInvalid {
		// Plain prose from a tool-calling model is its final answer.
		return Final(strings.TrimSpace(output))
	}
	return translate(decision)
}

func (p *Planner) toolSchemas(rc RunContext) []llm.ToolSchema {
	if p.dispatcher == nil {
		return nil
	}
	descriptors := p.dispatcher.Describe(tools.Context{
		HouseholdID: rc.HouseholdID,
		UserID:      rc.UserID,
		Allowed:     rc.AllowedTools,
	})
	schemas := make([]llm.ToolSchema, 0, len(descriptors))
	for _, desc := range descriptors {
		schemas = append(schemas, llm.ToolSchema{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Schema,
		})
	}
	return schemas
}

func allowedTool(name string, allowed []string) bool {
	if allowed == nil {
		return true
	}
	for _, tool := range allowed {
		if tool == name {
			return true
		}
	}
	return false
}

func translate(decision Decision) Action {
	switch decision.Kind {
	case DecisionToolCall:
		return ToolCall(decision.Tool, decision.Args)
	case DecisionNeedInfo:
		return NeedInfo(decision.Questions)
	case DecisionFinal:
		return Final(decision.Message)
	default:
		return Final("")
	}
}

// nativeMessages keeps the decision guidance but leaves the tool inventory to
// the provider's tool-call wire format.
func (p *Planner) nativeMessages(state *RunState) []models.Message {
	system := "You decide the next step for a household assistant. " +
		"Call a tool when the task needs one. " +
		"If you are missing required details, reply with " +
		`{"type":"need_info","questions":["..."]}. ` +
		"When the task is complete, reply with the message for the user."
	messages := []models.Message{{Role: models.RoleSystem, Content: system}}
	history := state.History
	if len(history) > plannerHistory {
		history = history[len(history)-plannerHistory:]
	}
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: state.Message})
	return messages
}

func (p *Planner) buildMessages(state *RunState, rc RunContext) []models.Message {
	messages := []models.Message{{Role: models.RoleSystem, Content: p.systemPrompt(rc)}}
	history := state.History
	if len(history) > plannerHistory {
		history = history[len(history)-plannerHistory:]
	}
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: state.Message})
	return messages
}

func (p *Planner) systemPrompt(rc RunContext) string {
	var sb strings.Builder
	sb.WriteString("You decide the next step for a household assistant. ")
	sb.WriteString("Reply with only a JSON object, no prose:\n")
	sb.WriteString(`{"type":"tool_call","tool":"<name>","args":{...}}` + "\n")
	sb.WriteString(`{"type":"need_info","questions":["..."]}` + "\n")
	sb.WriteString(`{"type":"final","message":"..."}` + "\n")
	if p.dispatcher != nil {
		sb.WriteString("\nAvailable tools:\n")
		for _, desc := range p.dispatcher.Describe(tools.Context{
			HouseholdID: rc.HouseholdID,
			UserID:      rc.UserID,
			Allowed:     rc.AllowedTools,
		}) {
			params, _ := json.Marshal(desc.Schema)
			fmt.Fprintf(&sb, "- %s: %s %s\n", desc.Name, desc.Description, params)
		}
	}
	return sb.String()
}
