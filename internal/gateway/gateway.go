// Package gateway is the entry point for agent turns. It routes each user
// message to the chat fast path, the agentic loop, or the task-mode overlay,
// and owns streaming delivery, tracing, and metrics for the turn.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hearthd/hearth/internal/agent"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/llm"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/storage"
	"github.com/hearthd/hearth/internal/tasksession"
	"github.com/hearthd/hearth/internal/tools"
	"github.com/hearthd/hearth/pkg/models"
)

const (
	defaultPersona = "You are Hearth, a warm and practical household assistant. " +
		"Be concise, specific, and honest about what you could not do."

	apologyMessage  = "Sorry, something went wrong while working on that. Please try again."
	tooManyStepsMsg = "I had to stop: this task took too many steps. Please start over with a simpler request."
)

// Request is one chat intake from a channel.
type Request struct {
	HouseholdID string
	UserID      string
	Message     string
	History     []models.Message

	// TaskMode forces the task-session overlay regardless of routing.
	TaskMode bool
}

// Gateway orchestrates agent turns.
type Gateway struct {
	client     llm.Client
	dispatcher *tools.Dispatcher
	parser     *agent.Parser
	planner    *agent.Planner
	validator  *agent.Validator
	tasks      *tasksession.Store
	history    storage.HistoryStore

	cfg     config.AgentConfig
	persona string

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPersona replaces the default system persona.
func WithPersona(persona string) Option {
	return func(g *Gateway) { g.persona = persona }
}

// WithTracer sets the OpenTelemetry tracer for turn spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = tracer }
}

// New builds a gateway.
func New(
	client llm.Client,
	dispatcher *tools.Dispatcher,
	parser *agent.Parser,
	planner *agent.Planner,
	validator *agent.Validator,
	tasks *tasksession.Store,
	history storage.HistoryStore,
	cfg config.AgentConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts ...Option,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		client:     client,
		dispatcher: dispatcher,
		parser:     parser,
		planner:    planner,
		validator:  validator,
		tasks:      tasks,
		history:    history,
		cfg:        cfg,
		persona:    defaultPersona,
		logger:     logger.With("component", "gateway"),
		metrics:    metrics,
		tracer:     noop.NewTracerProvider().Tracer("hearth"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Process runs one turn. With a progress callback the turn streams events and
// terminates the stream with exactly one done event; without one it blocks
// and only the returned Reply matters. The final reply is persisted to
// history either way.
func (g *Gateway) Process(ctx context.Context, req Request, progress models.ProgressFunc) (*models.Reply, error) {
	start := time.Now()
	mode := g.route(ctx, req)

	ctx, span := g.tracer.Start(ctx, "gateway.turn", trace.WithAttributes(
		attribute.String("turn.mode", string(mode)),
		attribute.String("turn.user", req.UserID),
	))
	defer span.End()

	emit := newEmitter(progress, g.cfg)

	var reply *models.Reply
	var err error
	switch mode {
	case agent.ModeTask:
		reply, err = g.taskTurn(ctx, req, emit)
	case agent.ModeChat:
		reply, err = g.chatTurn(ctx, req, emit)
	default:
		reply, err = g.agenticTurn(ctx, req, mode, emit)
	}

	status := "ok"
	if err != nil {
		status = "failed"
		emit.done("", nil, apologyMessage)
	} else {
		emit.done(reply.Message, reply.Actions, "")
	}
	if g.metrics != nil {
		g.metrics.TurnCounter.WithLabelValues(string(mode), status).Inc()
		g.metrics.TurnDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.logger.Error("turn failed", "mode", mode, "user", req.UserID, "error", err)
		return nil, err
	}

	g.persist(ctx, req, reply)
	return reply, nil
}

// persist appends the user message and the final reply to history. History
// failures do not fail the turn.
func (g *Gateway) persist(ctx context.Context, req Request, reply *models.Reply) {
	if g.history == nil {
		return
	}
	now := time.Now().UTC()
	userMsg := models.Message{Role: models.RoleUser, Content: req.Message, CreatedAt: now}
	if err := g.history.Append(ctx, req.HouseholdID, req.UserID, userMsg); err != nil {
		g.logger.Warn("history append failed", "error", err)
		return
	}
	assistantMsg := models.Message{Role: models.RoleAssistant, Content: reply.Message, CreatedAt: now}
	if err := g.history.Append(ctx, req.HouseholdID, req.UserID, assistantMsg); err != nil {
		g.logger.Warn("history append failed", "error", err)
	}
}

// route classifies the request. A short model call decides; on any model
// problem the deterministic keyword fallback applies. An explicit task-mode
// hint wins outright.
func (g *Gateway) route(ctx context.Context, req Request) agent.Mode {
	if req.TaskMode {
		return agent.ModeTask
	}
	if g.client != nil {
		if mode, err := g.routeWithModel(ctx, req.Message); err == nil {
			return mode
		}
	}
	return routeByKeywords(req.Message)
}

const routePrompt = "Classify the user message into exactly one word: " +
	"chat, research, task, code, or reflection. " +
	"task means the user wants something scheduled, reminded, or changed. " +
	"research means the user wants information looked up. " +
	"Reply with the single word only."

func (g *Gateway) routeWithModel(ctx context.Context, message string) (agent.Mode, error) {
	output, err := g.modelCall(ctx, "route", []models.Message{
		{Role: models.RoleSystem, Content: routePrompt},
		{Role: models.RoleUser, Content: message},
	}, 0, 10)
	if err != nil {
		return "", err
	}
	switch agent.Mode(strings.ToLower(strings.TrimSpace(output))) {
	case agent.ModeChat:
		return agent.ModeChat, nil
	case agent.ModeResearch:
		return agent.ModeResearch, nil
	case agent.ModeTask:
		return agent.ModeTask, nil
	case agent.ModeCode:
		return agent.ModeCode, nil
	case agent.ModeReflection:
		return agent.ModeReflection, nil
	default:
		return "", fmt.Errorf("unrecognized mode %q", output)
	}
}

var taskKeywords = []string{"remind", "schedule", "every day", "every week", "cancel the", "set up", "recuerda", "agenda"}
var researchKeywords = []string{"search", "look up", "find out", "what is the price", "busca"}
var codeKeywords = []string{"code", "function", "bug", "file", "repository"}

func routeByKeywords(message string) agent.Mode {
	lowered := strings.ToLower(message)
	for _, keyword := range taskKeywords {
		if strings.Contains(lowered, keyword) {
			return agent.ModeTask
		}
	}
	for _, keyword := range researchKeywords {
		if strings.Contains(lowered, keyword) {
			return agent.ModeResearch
		}
	}
	for _, keyword := range codeKeywords {
		if strings.Contains(lowered, keyword) {
			return agent.ModeCode
		}
	}
	return agent.ModeChat
}

// chatTurn is the fast path: one model call, streamed when the client can.
func (g *Gateway) chatTurn(ctx context.Context, req Request, emit *emitter) (*models.Reply, error) {
	messages := g.chatMessages(req)
	if streamer, streaming := g.client.(llm.Streamer); streaming {
		reply, err := g.streamCall(ctx, "chat", streamer, messages, 0.7, emit)
		if err == nil {
			return &models.Reply{Message: cleanReply(reply)}, nil
		}
		g.logger.Warn("chat stream failed, retrying blocking", "error", err)
	}
	output, err := g.modelCall(ctx, "chat", messages, 0.7, 0)
	if err != nil {
		return g.legacyTurn(ctx, req)
	}
	return &models.Reply{Message: cleanReply(output)}, nil
}

func (g *Gateway) chatMessages(req Request) []models.Message {
	messages := []models.Message{{Role: models.RoleSystem, Content: g.persona}}
	messages = append(messages, req.History...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: req.Message})
	return messages
}

// modelCall wraps Chat with metrics by purpose.
func (g *Gateway) modelCall(ctx context.Context, purpose string, messages []models.Message, temperature float32, maxTokens int) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("no model client configured")
	}
	start := time.Now()
	output, err := g.client.Chat(ctx, messages, temperature, maxTokens)
	if g.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		g.metrics.ModelRequestCounter.WithLabelValues(g.client.Provider(), purpose, status).Inc()
		g.metrics.ModelRequestDuration.WithLabelValues(g.client.Provider(), purpose).Observe(time.Since(start).Seconds())
	}
	return output, err
}

// streamCall streams a model reply, forwarding chunks as token events, and
// returns the concatenated text.
func (g *Gateway) streamCall(ctx context.Context, purpose string, streamer llm.Streamer, messages []models.Message, temperature float32, emit *emitter) (string, error) {
	start := time.Now()
	chunks, err := streamer.Stream(ctx, messages, temperature)
	if err != nil {
		g.countModel(purpose, "error", start)
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			g.countModel(purpose, "error", start)
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
		emit.token(chunk.Text)
	}
	g.countModel(purpose, "success", start)
	return sb.String(), nil
}

func (g *Gateway) countModel(purpose, status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.ModelRequestCounter.WithLabelValues(g.client.Provider(), purpose, status).Inc()
	g.metrics.ModelRequestDuration.WithLabelValues(g.client.Provider(), purpose).Observe(time.Since(start).Seconds())
}

// cleanReply strips basic markdown emphasis and trims whitespace from a
// user-facing reply.
func cleanReply(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}
