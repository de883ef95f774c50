// Package llmtest provides completion-service doubles for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/codalotl/driveqa/internal/llm"
)

// Step produces the response for one scripted call.
type Step func(req llm.Request) (*llm.Response, error)

// Scripted replays steps in order and records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// NewScripted returns a client that answers call i with steps[i]. Calls past the end fail.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Complete implements llm.Client.
func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	n := len(s.requests)
	req.Messages = llm.CloneMessages(req.Messages)
	s.requests = append(s.requests, req)
	var step Step
	if n < len(s.steps) {
		step = s.steps[n]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step == nil {
		return nil, fmt.Errorf("llmtest: unexpected call %d (script has %d steps)", n+1, len(s.steps))
	}
	return step(req)
}

// Requests returns copies of the requests received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	for i, r := range s.requests {
		r.Messages = llm.CloneMessages(r.Messages)
		out[i] = r
	}
	return out
}

// Calls returns the number of Complete calls received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Func adapts a function to llm.Client. It is useful when responses depend on the request rather than call order.
type Func func(ctx context.Context, req llm.Request) (*llm.Response, error)

// Complete implements llm.Client.
func (f Func) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}

// Reply returns a step answering with resp.
func Reply(resp *llm.Response) Step {
	return func(llm.Request) (*llm.Response, error) { return resp, nil }
}

// Fail returns a step failing with err.
func Fail(err error) Step {
	return func(llm.Request) (*llm.Response, error) { return nil, err }
}

// Answer is a final-answer response.
func Answer(text string, in, out int) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.Block{llm.TextBlock(text)},
		Usage:      llm.Usage{InputTokens: in, OutputTokens: out},
	}
}

// ToolUse is a capability-requested response carrying calls.
func ToolUse(in, out int, calls ...llm.Block) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content:    calls,
		Usage:      llm.Usage{InputTokens: in, OutputTokens: out},
	}
}

// Call is a tool-use block.
func Call(id, name string, input map[string]any) llm.Block {
	return llm.Block{Type: llm.BlockToolUse, ID: id, Name: name, Input: input}
}
