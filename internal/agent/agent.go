// Package agent drives one question to a final answer by alternating completion calls with capability execution.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codalotl/driveqa/internal/capability"
	"github.com/codalotl/driveqa/internal/llm"
	"github.com/codalotl/driveqa/internal/types"
)

// DefaultMaxTurns is the turn budget used when callers have no better value.
const DefaultMaxTurns = 10

// RunResult is the outcome of a successful run.
type RunResult struct {
	Answer string
	Usage  types.UsageTally
}

// EventKind identifies an Event.
type EventKind string

const (
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventTurn       EventKind = "turn"
	EventAnswer     EventKind = "answer"
)

// Event describes progress within a run. Observers receive events synchronously, in order.
type Event struct {
	Kind    EventKind
	Turn    int
	Name    string         // capability name for tool events
	Input   map[string]any // tool_call only
	Text    string         // result text or answer
	IsError bool
	Usage   types.UsageTally
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the model identifier sent with every request.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMaxTokens sets the per-response output token limit.
func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithRunTimeout bounds the wall-clock time of each Run. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(a *Agent) { a.runTimeout = d }
}

// WithObserver registers fn to receive run events.
func WithObserver(fn func(Event)) Option {
	return func(a *Agent) { a.observer = fn }
}

// Agent answers questions with a completion service and a capability registry. An Agent holds no per-run state and
// may be used by concurrent Runs when its client and capabilities allow it.
type Agent struct {
	client     llm.Client
	registry   *capability.Registry
	tools      []llm.Tool
	model      string
	maxTokens  int
	runTimeout time.Duration
	logger     *zap.Logger
	observer   func(Event)
}

// New returns an Agent that advertises every capability in registry.
func New(client llm.Client, registry *capability.Registry, opts ...Option) *Agent {
	a := &Agent{
		client:   client,
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry, _ = capability.NewRegistry()
	}
	for _, s := range a.registry.Schemas() {
		a.tools = append(a.tools, llm.Tool{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema})
	}
	return a
}

// Model returns the configured model identifier.
func (a *Agent) Model() string {
	return a.model
}

// Run answers question under systemPrompt using at most maxTurns completion round trips.
//
// A turn is one completion call plus the capability executions it requests. On failure the returned RunResult
// still carries the usage accumulated so far; the error is a *TurnBudgetError or a *CompletionError.
func (a *Agent) Run(ctx context.Context, question, systemPrompt string, maxTurns int) (RunResult, error) {
	if a.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.runTimeout)
		defer cancel()
	}

	var usage usageMeter
	conv := NewConversation(llm.Message{Role: llm.RoleUser, Content: []llm.Block{llm.TextBlock(question)}})

	for {
		tally := usage.snapshot()
		if tally.Turns >= maxTurns {
			a.logger.Debug("turn budget exhausted", zap.Int("max_turns", maxTurns))
			return RunResult{Usage: tally}, &TurnBudgetError{MaxTurns: maxTurns, Usage: tally}
		}
		turn := tally.Turns + 1

		resp, err := a.client.Complete(ctx, llm.Request{
			Model:     a.model,
			System:    systemPrompt,
			Messages:  conv.Snapshot(),
			Tools:     a.tools,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			if resp != nil {
				usage.addTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
				tally = usage.snapshot()
			}
			return RunResult{Usage: tally}, &CompletionError{Turn: turn, Usage: tally, Err: err}
		}
		usage.addTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		calls := resp.ToolCalls()
		a.logger.Debug("completion",
			zap.Int("turn", turn),
			zap.String("stop_reason", string(resp.StopReason)),
			zap.Int("input_tokens", resp.Usage.InputTokens),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
			zap.Int("tool_calls", len(calls)))

		if resp.StopReason != llm.StopToolUse || len(calls) == 0 {
			usage.addTurn()
			result := RunResult{Answer: resp.Text(), Usage: usage.snapshot()}
			a.emit(Event{Kind: EventAnswer, Turn: turn, Text: result.Answer, Usage: result.Usage})
			return result, nil
		}

		conv.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		results := make([]llm.Block, 0, len(calls))
		for _, call := range calls {
			a.emit(Event{Kind: EventToolCall, Turn: turn, Name: call.Name, Input: call.Input})
			res := a.registry.Invoke(ctx, call.Name, call.Input)
			usage.addCall()
			if res.IsError {
				a.logger.Warn("capability returned an error", zap.String("capability", call.Name), zap.String("result", res.Text))
			}
			a.emit(Event{Kind: EventToolResult, Turn: turn, Name: call.Name, Text: res.Text, IsError: res.IsError})
			results = append(results, llm.Block{
				Type:      llm.BlockToolResult,
				ToolUseID: call.ID,
				Name:      call.Name,
				Content:   res.Text,
				IsError:   res.IsError,
			})
		}
		conv.Append(llm.Message{Role: llm.RoleUser, Content: results})
		usage.addTurn()
		a.emit(Event{Kind: EventTurn, Turn: turn, Usage: usage.snapshot()})
	}
}

func (a *Agent) emit(ev Event) {
	if a.observer != nil {
		a.observer(ev)
	}
}
