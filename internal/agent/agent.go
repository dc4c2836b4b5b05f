// Package agent runs one chat turn: it lets the model call the geocoding and
// restaurant search tools until it can answer, and always returns an answer.
package agent

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bitechat/internal/domain"
	"bitechat/internal/llm"
	"bitechat/internal/metrics"
)

// FallbackAnswer is returned when a turn cannot be completed.
const FallbackAnswer = "Sorry, I couldn't finish looking that up right now. Please try again in a moment."

// coordTolerance absorbs rounding when the model echoes a geocoded coordinate.
const coordTolerance = 1e-4

// State is the phase of the turn state machine.
type State int

const (
	StateIdle State = iota
	StateReasoning
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReasoning:
		return "reasoning"
	case StateResponding:
		return "responding"
	}
	return "unknown"
}

// Reply is the outcome of a turn. Degraded is set when the answer is the
// fallback rather than a model completion.
type Reply struct {
	Answer   string
	Degraded bool
}

// Config tunes the turn loop.
type Config struct {
	Instruction   string
	MaxIterations int
}

// Agent drives the tool-calling loop. It is safe for concurrent turns.
type Agent struct {
	llm          llm.Client
	tools        *Toolbox
	instruction  string
	maxIter      int
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *zap.Logger
	onTransition func(from, to State)
}

// Option configures an Agent.
type Option func(*Agent)

// WithTransitionHook observes state changes; used by tests and debug logging.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(a *Agent) { a.onTransition = fn }
}

// WithMetrics records turn outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// Tracer returns the tracer used for turns and tool calls.
func Tracer() trace.Tracer { return otel.Tracer("bitechat/agent") }

// New builds an agent over a chat model and a toolbox.
func New(client llm.Client, tools *Toolbox, cfg Config, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	a := &Agent{
		llm:         client,
		tools:       tools,
		instruction: cfg.Instruction,
		maxIter:     cfg.MaxIterations,
		tracer:      Tracer(),
		logger:      logger.Named("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// turn holds per-turn state: the conversation sent to the model and every
// coordinate a geocode call produced.
type turn struct {
	messages []llm.Message
	geocoded []domain.Coordinate
	state    State
}

// Respond answers input given the prior history. It never fails: provider and
// tool errors end in the fallback answer.
func (a *Agent) Respond(ctx context.Context, history []domain.Message, input string) Reply {
	ctx, span := a.tracer.Start(ctx, "agent.turn")
	defer span.End()

	t := &turn{messages: a.prompt(history, input)}
	a.transition(t, StateReasoning)

	answer, ok := a.reason(ctx, t)
	a.transition(t, StateResponding)
	reply := Reply{Answer: answer}
	if !ok || strings.TrimSpace(answer) == "" {
		reply = Reply{Answer: FallbackAnswer, Degraded: true}
	}
	outcome := "answered"
	if reply.Degraded {
		outcome = "degraded"
	}
	a.metrics.ObserveTurn(outcome)
	span.SetAttributes(attribute.String("turn.outcome", outcome))
	a.transition(t, StateIdle)
	return reply
}

func (a *Agent) reason(ctx context.Context, t *turn) (string, bool) {
	tools := Descriptors()
	for i := 0; i < a.maxIter; i++ {
		if ctx.Err() != nil {
			a.logger.Warn("turn cancelled", zap.Error(ctx.Err()))
			return "", false
		}
		resp, _, err := a.llm.ChatWithTools(ctx, t.messages, tools)
		if err != nil {
			a.logger.Error("chat completion failed", zap.Int("iteration", i), zap.Error(err))
			return "", false
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, true
		}
		t.messages = append(t.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			res := a.dispatch(ctx, t, call)
			t.messages = append(t.messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: res.JSON()})
		}
		a.transition(t, StateReasoning)
	}

	a.logger.Warn("iteration limit reached, requesting final answer", zap.Int("max_iterations", a.maxIter))
	resp, _, err := a.llm.ChatWithTools(ctx, t.messages, nil)
	if err != nil {
		a.logger.Error("final completion failed", zap.Error(err))
		return "", false
	}
	return resp.Content, true
}

func (a *Agent) dispatch(ctx context.Context, t *turn, call llm.ToolCall) ToolResult {
	kind, ok := ParseToolKind(call.Name)
	if !ok {
		a.logger.Warn("model requested unknown tool", zap.String("name", call.Name))
		return malformed("unknown tool " + call.Name)
	}
	args := call.Arguments
	if kind == ToolHybridSearch {
		args = a.groundCoordinates(t, args)
	}
	res := a.tools.Invoke(ctx, kind, args)
	if kind == ToolGeocode && res.Status == StatusOK && res.Coordinate != nil {
		t.geocoded = append(t.geocoded, *res.Coordinate)
	}
	return res
}

// groundCoordinates removes lat/lon from search arguments unless they match a
// coordinate geocoded earlier in this turn.
func (a *Agent) groundCoordinates(t *turn, raw string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return raw
	}
	lat, hasLat := number(args["lat"])
	lon, hasLon := number(args["lon"])
	if !hasLat && !hasLon {
		delete(args, "lat")
		delete(args, "lon")
		return encode(args, raw)
	}
	if hasLat && hasLon {
		for _, c := range t.geocoded {
			if math.Abs(c.Lat-lat) <= coordTolerance && math.Abs(c.Lon-lon) <= coordTolerance {
				args["lat"], args["lon"] = c.Lat, c.Lon
				return encode(args, raw)
			}
		}
	}
	a.logger.Warn("dropping coordinates not produced by geocoding this turn",
		zap.Any("lat", args["lat"]), zap.Any("lon", args["lon"]))
	delete(args, "lat")
	delete(args, "lon")
	return encode(args, raw)
}

func (a *Agent) prompt(history []domain.Message, input string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if a.instruction != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.instruction})
	}
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: input})
}

func (a *Agent) transition(t *turn, to State) {
	from := t.state
	t.state = to
	if a.onTransition != nil {
		a.onTransition(from, to)
	}
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func encode(args map[string]any, fallback string) string {
	data, err := json.Marshal(args)
	if err != nil {
		return fallback
	}
	return string(data)
}
