// Package agent runs chat turns of a persona: it assembles the context,
// streams the model output and executes the tools the model calls before
// resuming the stream.
package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/utils/async"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/comanager/pkg/utils/metrics"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// State is a step of a turn
type State string

const (
	StateAssemblingContext State = "ASSEMBLING_CONTEXT"
	StateStreamingModel    State = "STREAMING_MODEL"
	StateToolCallDetected  State = "TOOL_CALL_DETECTED"
	StateExecutingTools    State = "EXECUTING_TOOLS"
	StateResumingModel     State = "RESUMING_MODEL"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
)

const (
	DefaultMaxToolRounds = 5
	DefaultModelTimeout  = 2 * time.Minute
)

// Rememberer records a completed turn
type Rememberer interface {
	Remember(ctx context.Context, userID model.UserID, userText, assistantText, category string) error
}

// Controller executes turns for any persona. Clients are shared across
// turns; a Controller is safe for concurrent use.
type Controller struct {
	llm          adapter.LLM
	assembler    *Assembler
	memory       Rememberer
	dispatcher   *async.Dispatcher
	metrics      *metrics.Recorder
	maxRounds    int
	modelTimeout time.Duration
}

type Option func(*Controller)

func WithAssembler(a *Assembler) Option {
	return func(c *Controller) {
		c.assembler = a
	}
}

// WithMemory enables the completion time memory write
func WithMemory(m Rememberer) Option {
	return func(c *Controller) {
		c.memory = m
	}
}

// WithDispatcher sets where memory writes are scheduled
func WithDispatcher(d *async.Dispatcher) Option {
	return func(c *Controller) {
		c.dispatcher = d
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Controller) {
		c.metrics = r
	}
}

// WithMaxToolRounds bounds how many times tools are executed in one turn
func WithMaxToolRounds(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

// WithModelTimeout bounds each model round
func WithModelTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.modelTimeout = d
	}
}

func New(llm adapter.LLM, opts ...Option) *Controller {
	c := &Controller{
		llm:          llm,
		assembler:    NewAssembler(),
		maxRounds:    DefaultMaxToolRounds,
		modelTimeout: DefaultModelTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Input of a turn. History is the conversation as sent by the caller, the
// latest user message included.
type Input struct {
	Persona *Persona
	UserID  model.UserID
	History []model.Message
}

// Result summarizes a finished turn
type Result struct {
	State     State
	Text      string
	ToolCalls int
	Rounds    int
}

type turn struct {
	*Controller
	persona *Persona
	userID  model.UserID
	out     io.Writer
	text    strings.Builder
	state   State
	result  Result
}

// Run executes one turn and streams the assistant text to w in arrival
// order. On error the turn is FAILED and w may already carry part of the
// reply.
func (c *Controller) Run(ctx context.Context, w io.Writer, input Input) (*Result, error) {
	t := &turn{
		Controller: c,
		persona:    input.Persona,
		userID:     input.UserID,
		out:        w,
	}
	ctx = logging.With(ctx, logging.From(ctx).With("persona", input.Persona.Name, "user_id", input.UserID))

	start := time.Now()
	err := t.run(ctx, input.History)
	if err != nil {
		t.transition(ctx, StateFailed)
		logging.From(ctx).Error("turn failed", "error", err)
	}
	c.metrics.TurnFinished(t.persona.Name, string(t.state), time.Since(start))

	t.result.State = t.state
	t.result.Text = t.text.String()
	return &t.result, err
}

func (t *turn) transition(ctx context.Context, next State) {
	logging.From(ctx).Debug("turn state", "from", t.state, "to", next)
	t.state = next
}

func (t *turn) run(ctx context.Context, history []model.Message) error {
	t.transition(ctx, StateAssemblingContext)
	userText := model.LatestUserText(history)
	system := t.assembler.SystemPrompt(ctx, t.persona, t.userID, userText)

	messages := make([]model.Message, 0, len(history)+1)
	messages = append(messages, model.NewSystemMessage(system))
	messages = append(messages, history...)

	tools := t.persona.Declarations()

	t.transition(ctx, StateStreamingModel)
	for {
		t.result.Rounds++
		roundText, events, err := t.stream(ctx, messages, tools)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		t.transition(ctx, StateToolCallDetected)
		if t.result.Rounds > t.maxRounds {
			logging.From(ctx).Warn("tool round limit reached", "limit", t.maxRounds)
			if err := t.write(roundLimitMessage(t.maxRounds)); err != nil {
				return err
			}
			break
		}

		requests, results := t.executeTools(ctx, events)
		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   roundText,
			ToolCalls: requests,
		})
		for _, result := range results {
			messages = append(messages, model.NewToolMessage(result))
		}

		t.transition(ctx, StateResumingModel)
	}

	t.transition(ctx, StateCompleted)
	t.remember(ctx, userText)
	return nil
}

// stream runs one model round. Text is written as it arrives; tool call
// events are collected for the caller.
func (t *turn) stream(ctx context.Context, messages []model.Message, tools []model.ToolDeclaration) (string, []*model.ToolCallEvent, error) {
	if t.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.modelTimeout)
		defer cancel()
	}

	req := &adapter.ChatRequest{
		Model:       t.persona.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: t.persona.Temperature,
	}

	var text strings.Builder
	var events []*model.ToolCallEvent
	for ev, err := range t.llm.StreamChat(ctx, req) {
		if err != nil {
			return "", nil, goerr.Wrap(err, "model stream failed", goerr.V("round", t.result.Rounds))
		}
		if ev == nil {
			continue
		}
		if ev.ToolCall != nil {
			events = append(events, ev.ToolCall)
			continue
		}
		if ev.Text == "" {
			continue
		}
		text.WriteString(ev.Text)
		if err := t.write(ev.Text); err != nil {
			return "", nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return "", nil, goerr.Wrap(err, "model round aborted", goerr.V("round", t.result.Rounds))
	}

	return text.String(), events, nil
}

func (t *turn) write(s string) error {
	t.text.WriteString(s)
	if _, err := io.WriteString(t.out, s); err != nil {
		return goerr.Wrap(err, "failed to write turn output")
	}
	return nil
}

// executeTools resolves every event into exactly one result. Results keep
// the order of the events.
func (t *turn) executeTools(ctx context.Context, events []*model.ToolCallEvent) ([]model.ToolCallRequest, []model.ToolResult) {
	t.transition(ctx, StateExecutingTools)

	requests := make([]model.ToolCallRequest, len(events))
	results := make([]model.ToolResult, len(events))

	var eg errgroup.Group
	for i, ev := range events {
		parsed := ParseToolCall(ev)
		if !parsed.Recognized() {
			logging.From(ctx).Warn("unrecognized tool call", "payload", ev.Payload)
			requests[i] = model.ToolCallRequest{ID: parsed.Request.ID, Name: UnknownToolName}
			results[i] = model.NewToolError(parsed.Request.ID, UnknownToolName, errUnknownToolText)
			t.metrics.ToolInvoked(t.persona.Name, UnknownToolName, true)
			continue
		}

		requests[i] = parsed.Request
		eg.Go(func() error {
			results[i] = t.invoke(ctx, parsed.Request)
			t.metrics.ToolInvoked(t.persona.Name, parsed.Request.Name, results[i].IsError)
			return nil
		})
	}
	_ = eg.Wait()

	t.result.ToolCalls += len(events)
	return requests, results
}

func (t *turn) invoke(ctx context.Context, req model.ToolCallRequest) model.ToolResult {
	if t.persona.Tools == nil {
		logging.From(ctx).Warn("tool not found", "tool", req.Name)
		return model.NewToolError(req.ID, req.Name, fmt.Sprintf("Error: Tool %s not found", req.Name))
	}
	return t.persona.Tools.Invoke(ctx, req)
}

// remember schedules the memory write of the completed turn. It returns
// without waiting for the write.
func (t *turn) remember(ctx context.Context, userText string) {
	if t.memory == nil || t.persona.MemoryCategory == "" || t.userID == "" || userText == "" {
		return
	}
	assistantText := t.text.String()
	if assistantText == "" {
		return
	}

	task := func(ctx context.Context) error {
		err := t.memory.Remember(ctx, t.userID, userText, assistantText, t.persona.MemoryCategory)
		t.metrics.MemoryWritten(err)
		return err
	}

	if t.dispatcher != nil {
		t.dispatcher.Dispatch(ctx, "remember_turn", task)
		return
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := task(bgCtx); err != nil {
			logging.From(bgCtx).Error("failed to remember turn", "error", err)
		}
	}()
}

func roundLimitMessage(limit int) string {
	return fmt.Sprintf("\n\nI stopped after %d rounds of tool calls without reaching a final answer. Please narrow down the request and try again.", limit)
}
