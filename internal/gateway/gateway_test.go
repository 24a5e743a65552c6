package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthd/hearth/internal/agent"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/jobs"
	"github.com/hearthd/hearth/internal/storage"
	"github.com/hearthd/hearth/internal/tasksession"
	"github.com/hearthd/hearth/internal/tools"
	"github.com/hearthd/hearth/pkg/models"
)

// scriptClient replays a fixed sequence of model replies and records every
// prompt it was given.
type scriptClient struct {
	mu      sync.Mutex
	replies []scriptReply
	prompts [][]models.Message
}

type scriptReply struct {
	text string
	err  error
}

func (c *scriptClient) Chat(ctx context.Context, messages []models.Message, temperature float32, maxTokens int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, messages)
	if len(c.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return next.text, next.err
}

func (c *scriptClient) Provider() string { return "script" }

func (c *scriptClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func (c *scriptClient) prompt(i int) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompts[i]
}

type searchTool struct{ calls int }

func (t *searchTool) Name() string        { return "web.search" }
func (t *searchTool) Description() string { return "search the web" }
func (t *searchTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
	}
}

func (t *searchTool) Execute(ctx context.Context, call tools.Call) (map[string]any, error) {
	t.calls++
	return map[string]any{
		"results": []any{
			map[string]any{"title": "Best kettles 2026", "url": "https://example.com/kettles"},
			map[string]any{"title": "Kettle guide", "url": "https://example.com/guide"},
			map[string]any{"title": "Budget picks", "url": "https://example.com/budget"},
		},
		"count": 3,
	}, nil
}

type testEnv struct {
	gateway  *Gateway
	client   *scriptClient
	search   *searchTool
	tasks    *tasksession.Store
	jobStore *jobs.MemoryStore
}

func newTestEnv(t *testing.T, replies ...scriptReply) *testEnv {
	t.Helper()
	client := &scriptClient{replies: replies}
	search := &searchTool{}

	dispatcher := tools.NewDispatcher(nil, nil)
	if err := dispatcher.Register(search); err != nil {
		t.Fatal(err)
	}
	jobStore := jobs.NewMemoryStore()
	engine := jobs.NewEngine(jobStore, storage.NewMemoryMetadataStore(),
		config.SchedulerConfig{Tick: 30 * time.Second, JobsPerCallerPerDay: 20}, nil,
		jobs.WithRunner(jobs.RunnerFunc(func(context.Context, *jobs.Job) error { return nil })))
	if err := tools.RegisterScheduleTools(dispatcher, engine); err != nil {
		t.Fatal(err)
	}

	taskStore, err := tasksession.NewStore(t.TempDir(), tasksession.DefaultBudgets())
	if err != nil {
		t.Fatal(err)
	}

	parser := agent.NewParser(nil, nil)
	planner := agent.NewPlanner(client, parser, dispatcher, nil)
	validator := agent.NewValidator(false)
	agentCfg := config.Default().Agent

	gw := New(client, dispatcher, parser, planner, validator, taskStore,
		storage.NewMemoryHistoryStore(), agentCfg, nil, nil)
	return &testEnv{gateway: gw, client: client, search: search, tasks: taskStore, jobStore: jobStore}
}

func req(message string, taskMode bool) Request {
	return Request{HouseholdID: "house-1", UserID: "user-1", Message: message, TaskMode: taskMode}
}

func TestChatModeGreeting(t *testing.T) {
	env := newTestEnv(t,
		scriptReply{text: "chat"},
		scriptReply{text: "Hello! How can I help around the house today?"},
	)

	reply, err := env.gateway.Process(context.Background(), req("hello", false), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if reply.Message == "" {
		t.Fatal("chat reply is empty")
	}
	// One routing call plus exactly one chat call, nothing else.
	if env.client.calls() != 2 {
		t.Fatalf("model calls = %d, want 2 (route + chat)", env.client.calls())
	}
	if env.search.calls != 0 {
		t.Fatalf("chat turn invoked %d tools, want 0", env.search.calls)
	}
	list, _ := env.jobStore.List(context.Background(), "")
	if len(list) != 0 {
		t.Fatalf("chat turn created %d jobs, want 0", len(list))
	}
}

func TestTaskModeScheduling(t *testing.T) {
	env := newTestEnv(t, scriptReply{text: `{"type":"tool_call","tool":"schedule.add","args":{
		"schedule": {"kind": "every", "everyMs": 1200000},
		"sessionTarget": "main",
		"payload": {"kind": "systemEvent", "text": "Reminder: check the oven"}
	}}`})

	// Pre-create the session so its id is known after the pointer is cleared.
	created, err := env.tasks.GetOrCreate("user-1", "Remind me in 20 minutes")
	if err != nil {
		t.Fatal(err)
	}

	reply, err := env.gateway.Process(context.Background(), req("Remind me in 20 minutes", true), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	list, listErr := env.jobStore.List(context.Background(), "user-1")
	if listErr != nil || len(list) != 1 {
		t.Fatalf("job store has %d jobs for the user, want 1", len(list))
	}
	job := list[0]
	if job.Schedule.Kind != jobs.ScheduleEvery || job.Schedule.EveryMS < jobs.MinEveryMS {
		t.Fatalf("stored schedule = %+v", job.Schedule)
	}
	if !strings.Contains(reply.Message, job.ID[:8]) {
		t.Fatalf("reply %q does not contain the truncated job id %q", reply.Message, job.ID[:8])
	}

	session, err := env.tasks.Get(created.TaskID)
	if err != nil {
		t.Fatalf("Get(session) error = %v", err)
	}
	if session.State != tasksession.StateDone {
		t.Fatalf("task state = %s, want DONE", session.State)
	}
	// The active pointer is cleared; the next task message starts fresh.
	next, err := env.tasks.GetOrCreate("user-1", "another task")
	if err != nil {
		t.Fatal(err)
	}
	if next.TaskID == created.TaskID {
		t.Fatal("finished task is still the active session")
	}
}

func TestTaskModeToolFailureFailsSession(t *testing.T) {
	env := newTestEnv(t, scriptReply{text: `{"type":"tool_call","tool":"schedule.add","args":{
		"schedule": {"kind": "cron", "expr": "* * * * *", "tz": "UTC"},
		"sessionTarget": "main",
		"payload": {"kind": "systemEvent", "text": "too eager"}
	}}`})

	created, err := env.tasks.GetOrCreate("user-1", "ping me every minute")
	if err != nil {
		t.Fatal(err)
	}

	reply, err := env.gateway.Process(context.Background(), req("ping me every minute", true), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// The every-minute cron is rejected, so nothing may be written and the
	// reply must carry the rejection, not a confirmation.
	list, _ := env.jobStore.List(context.Background(), "user-1")
	if len(list) != 0 {
		t.Fatalf("job store has %d jobs after a rejected add, want 0", len(list))
	}
	if strings.Contains(reply.Message, "Done") {
		t.Fatalf("reply %q confirms success for a failed tool call", reply.Message)
	}
	if !strings.Contains(reply.Message, "not allowed") {
		t.Fatalf("reply %q does not surface the validation message", reply.Message)
	}
	if len(reply.Actions) != 1 || reply.Actions[0].Success {
		t.Fatalf("reply actions = %+v, want one failed action", reply.Actions)
	}

	session, err := env.tasks.Get(created.TaskID)
	if err != nil {
		t.Fatalf("Get(session) error = %v", err)
	}
	if session.State != tasksession.StateFailed {
		t.Fatalf("task state = %s, want FAILED", session.State)
	}
	next, err := env.tasks.GetOrCreate("user-1", "try again")
	if err != nil {
		t.Fatal(err)
	}
	if next.TaskID == created.TaskID {
		t.Fatal("failed task is still the active session")
	}
}

func TestTaskModeNeedInfo(t *testing.T) {
	env := newTestEnv(t, scriptReply{text: `{"type":"need_info","questions":["What time should the reminder fire?"]}`})

	reply, err := env.gateway.Process(context.Background(), req("remind me", true), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !strings.Contains(reply.Message, "What time") {
		t.Fatalf("reply = %q, want the clarifying question", reply.Message)
	}
	session, err := env.tasks.GetOrCreate("user-1", "followup")
	if err != nil {
		t.Fatal(err)
	}
	if session.State != tasksession.StateNeedsInfo {
		t.Fatalf("task state = %s, want NEEDS_INFO (still active)", session.State)
	}
}

func TestTaskModeBudgetExhaustion(t *testing.T) {
	replies := make([]scriptReply, 0, 4)
	for i := 0; i < 4; i++ {
		replies = append(replies, scriptReply{text: `{"type":"need_info","questions":["and then?"]}`})
	}
	env := newTestEnv(t, replies...)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := env.gateway.Process(ctx, req(fmt.Sprintf("task message %d", i), true), nil); err != nil {
			t.Fatalf("Process() turn %d error = %v", i, err)
		}
	}
	reply, err := env.gateway.Process(ctx, req("fifth attempt", true), nil)
	if err != nil {
		t.Fatalf("Process() fifth turn error = %v", err)
	}
	if !strings.Contains(reply.Message, "too many steps") {
		t.Fatalf("fifth reply = %q, want the too-many-steps message", reply.Message)
	}

	// The failed task is no longer active; the next message starts fresh.
	fresh, err := env.tasks.GetOrCreate("user-1", "new task")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.State != tasksession.StateIdle || fresh.TurnCount != 0 {
		t.Fatalf("next session = %+v, want a fresh IDLE session", fresh)
	}
}

func TestAgenticTurnStreamsEvents(t *testing.T) {
	env := newTestEnv(t,
		scriptReply{text: "research"},
		scriptReply{text: `{"goal":"find a kettle","plan":["search the web"],"next_action":"tool",
			"tool_calls":[{"tool":"web.search","args":{"query":"best electric kettle"}}]}`},
		scriptReply{text: `{"reflection":"results look solid","next_action":"respond","response_outline":"top pick plus link"}`},
		scriptReply{text: "The best pick is at https://example.com/kettles."},
	)

	var events []models.Event
	reply, err := env.gateway.Process(context.Background(), req("find me a good kettle", false), func(event models.Event) {
		events = append(events, event)
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	doneCount := 0
	for _, event := range events {
		if event.Type == models.EventDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Fatalf("stream contains %d done events, want exactly 1", doneCount)
	}
	last := events[len(events)-1]
	if last.Type != models.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	if last.Message != reply.Message {
		t.Fatalf("done message = %q, reply = %q", last.Message, reply.Message)
	}

	// Ordering: plan output precedes tool events, which precede done.
	indexOf := func(eventType models.EventType) int {
		for i, event := range events {
			if event.Type == eventType {
				return i
			}
		}
		return -1
	}
	if !(indexOf(models.EventStepOutput) < indexOf(models.EventToolStart)) {
		t.Fatalf("plan output does not precede tool events: %v", eventTypes(events))
	}
	if !(indexOf(models.EventToolStart) < indexOf(models.EventToolDone)) {
		t.Fatalf("tool_start does not precede tool_done: %v", eventTypes(events))
	}
	if len(reply.Actions) != 1 || reply.Actions[0].Tool != "web.search" {
		t.Fatalf("reply actions = %+v", reply.Actions)
	}
}

func eventTypes(events []models.Event) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, event := range events {
		out = append(out, event.Type)
	}
	return out
}

func TestToolResultReachesWriter(t *testing.T) {
	env := newTestEnv(t,
		scriptReply{text: "research"},
		scriptReply{text: `{"goal":"find a kettle","plan":["search"],"next_action":"tool",
			"tool_calls":[{"tool":"web.search","args":{"query":"kettle"}}]}`},
		scriptReply{text: `{"reflection":"done","next_action":"respond"}`},
		scriptReply{text: "Top result: https://example.com/kettles"},
	)

	reply, err := env.gateway.Process(context.Background(), req("research kettles", false), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if env.search.calls != 1 {
		t.Fatalf("search tool ran %d times, want 1", env.search.calls)
	}

	// The writer prompt carries one fact line per tool result, tool name
	// first, with at least one result URL.
	writerPrompt := env.client.prompt(3)
	content := writerPrompt[len(writerPrompt)-1].Content
	if !strings.Contains(content, "web.search:") {
		t.Fatalf("writer prompt lacks the tool fact: %q", content)
	}
	if !strings.Contains(content, "https://example.com/kettles") {
		t.Fatalf("writer prompt lacks the result URL: %q", content)
	}
	if !strings.Contains(reply.Message, "https://example.com/kettles") {
		t.Fatalf("final reply lacks the URL: %q", reply.Message)
	}
}

func TestModelFailureFallsBack(t *testing.T) {
	env := newTestEnv(t,
		scriptReply{text: "research"},
		scriptReply{err: errors.New("model overloaded")},
		scriptReply{text: "Here is what I know without searching."},
	)

	reply, err := env.gateway.Process(context.Background(), req("look this up", false), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if reply.Message != "Here is what I know without searching." {
		t.Fatalf("fallback reply = %q", reply.Message)
	}
}

func TestDoubleModelFailureApologizes(t *testing.T) {
	env := newTestEnv(t,
		scriptReply{text: "research"},
		scriptReply{err: errors.New("model overloaded")},
		scriptReply{err: errors.New("still overloaded")},
	)

	reply, err := env.gateway.Process(context.Background(), req("look this up", false), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if reply.Message != apologyMessage {
		t.Fatalf("reply = %q, want the generic apology", reply.Message)
	}
}

func TestRouteKeywordFallback(t *testing.T) {
	tests := []struct {
		message string
		want    agent.Mode
	}{
		{"remind me to water the plants", agent.ModeTask},
		{"search for a good blender", agent.ModeResearch},
		{"there is a bug in this function", agent.ModeCode},
		{"good morning!", agent.ModeChat},
	}
	for _, tt := range tests {
		if got := routeByKeywords(tt.message); got != tt.want {
			t.Fatalf("routeByKeywords(%q) = %s, want %s", tt.message, got, tt.want)
		}
	}
}

func TestEmitterContract(t *testing.T) {
	var events []models.Event
	emit := newEmitter(func(event models.Event) { events = append(events, event) }, config.Default().Agent)

	emit.status("working")
	emit.stepOutput(models.PhasePlan, strings.Repeat("p", 5000), "")
	emit.done("final", nil, "")
	emit.status("late")
	emit.done("second final", nil, "")

	if len(events) != 3 {
		t.Fatalf("emitter produced %d events, want 3 (late events dropped)", len(events))
	}
	if len(events[1].Content) != 4000 {
		t.Fatalf("plan content length = %d, want truncation to 4000", len(events[1].Content))
	}
	if events[2].Type != models.EventDone || events[2].Message != "final" {
		t.Fatalf("terminal event = %+v", events[2])
	}
}
