package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearthd/hearth/internal/agent"
	"github.com/hearthd/hearth/internal/llm"
	"github.com/hearthd/hearth/pkg/models"
)

// planStep is the JSON contract of the first model call in an agentic turn.
type planStep struct {
	Goal            string     `json:"goal"`
	Plan            []string   `json:"plan"`
	NextAction      string     `json:"next_action"`
	ToolCalls       []toolCall `json:"tool_calls"`
	ResponseOutline string     `json:"response_outline"`
	QuestionToUser  string     `json:"question_to_user"`
}

// reflectStep is the JSON contract of each reflect call.
type reflectStep struct {
	Reflection      string     `json:"reflection"`
	NextAction      string     `json:"next_action"`
	ToolCalls       []toolCall `json:"tool_calls"`
	ResponseOutline string     `json:"response_outline"`
	QuestionToUser  string     `json:"question_to_user"`
}

type toolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// agenticTurn runs the plan, act, reflect, write sequence for non-chat modes.
func (g *Gateway) agenticTurn(ctx context.Context, req Request, mode agent.Mode, emit *emitter) (*models.Reply, error) {
	rc := agent.RunContext{HouseholdID: req.HouseholdID, UserID: req.UserID}
	executor := agent.NewExecutor(g.dispatcher, req.UserID)
	runTrace := agent.NewTurnTrace()
	state := agent.NewRunState(req.Message, req.History, mode)

	emit.status("Thinking about how to help...")

	plan, err := g.planCall(ctx, req, rc)
	if err != nil {
		g.logger.Warn("plan step failed, using legacy path", "error", err)
		return g.legacyTurn(ctx, req)
	}
	if plan.NextAction == "ask_user" && plan.QuestionToUser != "" {
		return &models.Reply{Message: cleanReply(plan.QuestionToUser)}, nil
	}
	emit.stepOutput(models.PhasePlan, planSummary(plan), "")

	outline := plan.ResponseOutline
	if blocked := g.actBatch(ctx, plan.ToolCalls, executor, g.validator, state, rc, runTrace, emit); blocked != nil {
		return blocked, nil
	}

	// Reflect and act until the model decides to respond or the cap hits.
	exited := false
	for iteration := 0; iteration < g.cfg.MaxIterations; iteration++ {
		if runTrace.Len() == 0 {
			exited = true
			break
		}
		reflect, err := g.reflectCall(ctx, req, runTrace)
		if err != nil {
			g.logger.Warn("reflect step failed, using legacy path", "error", err)
			return g.legacyTurn(ctx, req)
		}
		if reflect.ResponseOutline != "" {
			outline = reflect.ResponseOutline
		}
		emit.stepOutput(models.PhaseReflect, reflect.Reflection, "")

		if reflect.NextAction == "ask_user" && reflect.QuestionToUser != "" {
			return &models.Reply{Message: cleanReply(reflect.QuestionToUser), Actions: runTrace.Actions()}, nil
		}
		if reflect.NextAction != "tool" || len(reflect.ToolCalls) == 0 {
			exited = true
			break
		}
		if blocked := g.actBatch(ctx, reflect.ToolCalls, executor, g.validator, state, rc, runTrace, emit); blocked != nil {
			return blocked, nil
		}
	}
	if !exited {
		if g.metrics != nil {
			g.metrics.BudgetExhaustions.WithLabelValues("iterations").Inc()
		}
		return &models.Reply{Message: tooManyStepsMsg, Actions: runTrace.Actions()}, nil
	}

	message, err := g.writerCall(ctx, plan.Goal, outline, runTrace, emit)
	if err != nil {
		g.logger.Warn("writer step failed, using legacy path", "error", err)
		return g.legacyTurn(ctx, req)
	}
	return &models.Reply{Message: message, Actions: runTrace.Actions()}, nil
}

// actBatch executes planned tool calls in order, validating each observation.
// A validator rejection returns the blocked reply; otherwise nil.
func (g *Gateway) actBatch(ctx context.Context, calls []toolCall, executor *agent.Executor, validator *agent.Validator, state *agent.RunState, rc agent.RunContext, runTrace *agent.TurnTrace, emit *emitter) *models.Reply {
	for _, call := range calls {
		emit.toolStart(call.Tool)
		obs := executor.Run(ctx, agent.ToolCall(call.Tool, call.Args), rc)
		if result := validator.Check(state, obs); !result.Passed {
			if g.metrics != nil {
				g.metrics.ValidatorRejections.Inc()
			}
			g.logger.Warn("validator rejected tool output", "tool", call.Tool)
			emit.toolDone(call.Tool)
			return &models.Reply{Message: result.Error, Actions: runTrace.Actions()}
		}
		runTrace.Record(obs)
		emit.toolDone(call.Tool)
		facts := runTrace.Facts()
		emit.stepOutput(models.PhaseToolResult, facts[len(facts)-1], call.Tool)
	}
	return nil
}

func (g *Gateway) planCall(ctx context.Context, req Request, rc agent.RunContext) (*planStep, error) {
	output, err := g.modelCall(ctx, "plan", []models.Message{
		{Role: models.RoleSystem, Content: g.planPrompt(rc)},
		{Role: models.RoleUser, Content: req.Message},
	}, 0.2, 1000)
	if err != nil {
		return nil, err
	}
	var plan planStep
	if err := decodeStep(output, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (g *Gateway) planPrompt(rc agent.RunContext) string {
	var sb strings.Builder
	sb.WriteString("Plan how to handle the user's request. Reply with only a JSON object:\n")
	sb.WriteString(`{"goal":"...","plan":["..."],"next_action":"tool|respond|ask_user|revise_plan",`)
	sb.WriteString(`"tool_calls":[{"tool":"...","args":{...}}],"response_outline":"...","question_to_user":"..."}` + "\n")
	sb.WriteString("\nAvailable tools:\n")
	for _, desc := range g.dispatcher.Describe(toolsContext(rc)) {
		params, _ := json.Marshal(desc.Schema)
		fmt.Fprintf(&sb, "- %s: %s %s\n", desc.Name, desc.Description, params)
	}
	return sb.String()
}

func (g *Gateway) reflectCall(ctx context.Context, req Request, runTrace *agent.TurnTrace) (*reflectStep, error) {
	prompt := "You executed tools for the user's request. The observation below is " +
		"what happened. Decide what to do next. Reply with only a JSON object:\n" +
		`{"reflection":"...","next_action":"tool|respond|ask_user","tool_calls":[...],` +
		`"response_outline":"...","question_to_user":"..."}`
	output, err := g.modelCall(ctx, "reflect", []models.Message{
		{Role: models.RoleSystem, Content: prompt},
		{Role: models.RoleUser, Content: "Request: " + req.Message + "\nObservation: " + runTrace.Observation()},
	}, 0.2, 800)
	if err != nil {
		return nil, err
	}
	var reflect reflectStep
	if err := decodeStep(output, &reflect); err != nil {
		return nil, err
	}
	return &reflect, nil
}

// writerCall produces the user-facing answer from the goal and accumulated
// facts, streaming tokens when the client supports it.
func (g *Gateway) writerCall(ctx context.Context, goal, outline string, runTrace *agent.TurnTrace, emit *emitter) (string, error) {
	var sb strings.Builder
	sb.WriteString("Goal: " + goal + "\n")
	if facts := runTrace.Facts(); len(facts) > 0 {
		sb.WriteString("Facts:\n")
		for _, fact := range facts {
			sb.WriteString("- " + fact + "\n")
		}
	}
	if outline != "" {
		sb.WriteString("Outline: " + outline + "\n")
	}
	messages := []models.Message{
		{Role: models.RoleSystem, Content: g.persona},
		{Role: models.RoleUser, Content: sb.String()},
	}

	var output string
	var err error
	if streamer, streaming := g.client.(llm.Streamer); streaming {
		output, err = g.streamCall(ctx, "write", streamer, messages, 0.7, emit)
	} else {
		output, err = g.modelCall(ctx, "write", messages, 0.7, 0)
	}
	if err != nil {
		return "", err
	}
	// Writers sometimes wrap the answer in the structured final envelope.
	if decision := g.parser.Parse(output, "", nil); decision.Kind == agent.DecisionFinal && decision.Message != "" {
		output = decision.Message
	}
	return cleanReply(output), nil
}

// decodeStep extracts the first JSON object in output and binds it.
func decodeStep(output string, out any) error {
	candidate := strings.TrimSpace(output)
	if !strings.HasPrefix(candidate, "{") {
		start := strings.IndexByte(output, '{')
		end := strings.LastIndexByte(output, '}')
		if start < 0 || end <= start {
			return fmt.Errorf("no JSON object in model output")
		}
		candidate = output[start : end+1]
	}
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return fmt.Errorf("decode step output: %w", err)
	}
	return nil
}

func planSummary(plan *planStep) string {
	var sb strings.Builder
	sb.WriteString(plan.Goal)
	for i, step := range plan.Plan {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, step)
	}
	return sb.String()
}
