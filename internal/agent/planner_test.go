package agent

import (
	"context"
	"testing"

	"github.com/hearthd/hearth/internal/llm"
	"github.com/hearthd/hearth/pkg/models"
)

type chatOnlyClient struct {
	output string
	calls  int
}

func (c *chatOnlyClient) Chat(ctx context.Context, messages []models.Message, temperature float32, maxTokens int) (string, error) {
	c.calls++
	return c.output, nil
}

func (c *chatOnlyClient) Provider() string { return "fake" }

// nativeClient implements llm.ToolCaller and records what went over the wire.
type nativeClient struct {
	content   string
	toolCalls []llm.ToolCall

	chatCalls  int
	toolsSent  []llm.ToolSchema
	choiceSent string
}

func (c *nativeClient) Chat(ctx context.Context, messages []models.Message, temperature float32, maxTokens int) (string, error) {
	c.chatCalls++
	return "", nil
}

func (c *nativeClient) Provider() string { return "fake-native" }

func (c *nativeClient) ChatWithTools(ctx context.Context, messages []models.Message, tools []llm.ToolSchema, temperature float32, toolChoice string) (string, []llm.ToolCall, error) {
	c.toolsSent = tools
	c.choiceSent = toolChoice
	return c.content, c.toolCalls, nil
}

func taskState(message string) *RunState {
	return NewRunState(message, nil, ModeTask)
}

func TestPlannerNativeToolCall(t *testing.T) {
	client := &nativeClient{
		toolCalls: []llm.ToolCall{{Name: "test.echo", Args: map[string]any{"text": "hi"}}},
	}
	d := testDispatcher(t, &echoTool{name: "test.echo"})
	planner := NewPlanner(client, NewParser(nil, nil), d, nil)

	action := planner.Next(context.Background(), taskState("echo hi"), RunContext{})
	if action.Kind != ActionToolCall || action.Tool != "test.echo" {
		t.Fatalf("Next() = %+v, want the native tool call", action)
	}
	if action.Args["text"] != "hi" {
		t.Fatalf("Next() args = %v", action.Args)
	}
	if client.chatCalls != 0 {
		t.Fatalf("tool-calling client made %d plain Chat calls, want 0", client.chatCalls)
	}
	if len(client.toolsSent) != 1 || client.toolsSent[0].Name != "test.echo" {
		t.Fatalf("schemas sent = %+v, want the dispatcher's descriptor", client.toolsSent)
	}
	if client.toolsSent[0].Parameters == nil {
		t.Fatal("schema parameters not forwarded")
	}
	if client.choiceSent != "auto" {
		t.Fatalf("tool choice = %q, want auto", client.choiceSent)
	}
}

func TestPlannerNativeNeedInfo(t *testing.T) {
	client := &nativeClient{content: `{"type":"need_info","questions":["What time?"]}`}
	planner := NewPlanner(client, NewParser(nil, nil), testDispatcher(t), nil)

	action := planner.Next(context.Background(), taskState("remind me"), RunContext{})
	if action.Kind != ActionNeedInfo || len(action.Questions) != 1 || action.Questions[0] != "What time?" {
		t.Fatalf("Next() = %+v, want need_info from text content", action)
	}
}

func TestPlannerNativeProseIsFinal(t *testing.T) {
	client := &nativeClient{content: "All set, the reminder is in place."}
	planner := NewPlanner(client, NewParser(nil, nil), testDispatcher(t), nil)

	action := planner.Next(context.Background(), taskState("thanks"), RunContext{})
	if action.Kind != ActionFinal || action.Message != "All set, the reminder is in place." {
		t.Fatalf("Next() = %+v, want prose as final message", action)
	}
}

func TestPlannerNativeAllowList(t *testing.T) {
	client := &nativeClient{
		toolCalls: []llm.ToolCall{{Name: "other.tool", Args: map[string]any{}}},
	}
	d := testDispatcher(t, &echoTool{name: "test.echo"})
	planner := NewPlanner(client, NewParser(nil, nil), d, nil)

	action := planner.Next(context.Background(), taskState("do it"), RunContext{AllowedTools: []string{"test.echo"}})
	if action.Kind != ActionFinal || action.Message != "" {
		t.Fatalf("Next() = %+v, want safe empty final for tool outside allow-list", action)
	}
}

func TestPlannerParserPathWithoutCapability(t *testing.T) {
	client := &chatOnlyClient{output: `{"type":"tool_call","tool":"test.echo","args":{"text":"hi"}}`}
	d := testDispatcher(t, &echoTool{name: "test.echo"})
	planner := NewPlanner(client, NewParser(nil, nil), d, nil)

	action := planner.Next(context.Background(), taskState("echo hi"), RunContext{})
	if action.Kind != ActionToolCall || action.Tool != "test.echo" {
		t.Fatalf("Next() = %+v, want tool call via the parser path", action)
	}
	if client.calls != 1 {
		t.Fatalf("Chat calls = %d, want 1", client.calls)
	}
}

func TestPlannerConsumesPendingDecision(t *testing.T) {
	client := &nativeClient{content: "should not be consulted"}
	planner := NewPlanner(client, NewParser(nil, nil), testDispatcher(t), nil)

	state := taskState("carry on")
	state.SetPending(Decision{Kind: DecisionFinal, Message: "already decided"})

	action := planner.Next(context.Background(), state, RunContext{})
	if action.Kind != ActionFinal || action.Message != "already decided" {
		t.Fatalf("Next() = %+v, want the pending decision", action)
	}
	if client.chatCalls != 0 || client.toolsSent != nil {
		t.Fatal("pending decision still triggered a model call")
	}
}
