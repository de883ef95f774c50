package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/codalotl/driveqa/internal/capability"
	"github.com/codalotl/driveqa/internal/llm"
	"github.com/codalotl/driveqa/internal/llm/llmtest"
	"github.com/codalotl/driveqa/internal/types"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(
		capability.Capability{
			Name:        "lookup",
			Description: "Look up a fact.",
			Params:      []capability.Param{{Name: "key", Type: capability.TypeString, Required: true}},
			Handler: func(_ context.Context, args capability.Args) (string, error) {
				return "value of " + args.Text("key"), nil
			},
		},
		capability.Capability{
			Name:        "broken",
			Description: "Always fails.",
			Handler: func(context.Context, capability.Args) (string, error) {
				return "", errors.New("service unavailable")
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func TestRun_ZeroTurnBudgetFailsImmediately(t *testing.T) {
	t.Parallel()

	client := llmtest.NewScripted()
	a := New(client, testRegistry(t))

	res, err := a.Run(context.Background(), "q", "sys", 0)
	require.ErrorIs(t, err, ErrTurnBudgetExceeded)
	require.Equal(t, types.UsageTally{}, res.Usage)
	usage, ok := PartialUsage(err)
	require.True(t, ok)
	require.Equal(t, types.UsageTally{}, usage)
	require.Equal(t, 0, client.Calls())
}

func TestRun_ImmediateAnswer(t *testing.T) {
	t.Parallel()

	client := llmtest.NewScripted(llmtest.Reply(llmtest.Answer("Paris.", 50, 5)))
	a := New(client, testRegistry(t), WithModel("claude-sonnet-4-6"), WithMaxTokens(512))
	require.Equal(t, "claude-sonnet-4-6", a.Model())

	res, err := a.Run(context.Background(), "Capital of France?", "be brief", DefaultMaxTurns)
	require.NoError(t, err)
	require.Equal(t, "Paris.", res.Answer)
	require.Equal(t, types.UsageTally{InputTokens: 50, OutputTokens: 5, Turns: 1}, res.Usage)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "claude-sonnet-4-6", reqs[0].Model)
	require.Equal(t, "be brief", reqs[0].System)
	require.Equal(t, 512, reqs[0].MaxTokens)
	require.Len(t, reqs[0].Tools, 2)
	require.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: []llm.Block{llm.TextBlock("Capital of France?")}}}, reqs[0].Messages)
}

func TestRun_ToolCallsAccumulateAndAppend(t *testing.T) {
	t.Parallel()

	client := llmtest.NewScripted(
		llmtest.Reply(llmtest.ToolUse(100, 20,
			llmtest.Call("c1", "lookup", map[string]any{"key": "a"}),
			llmtest.Call("c2", "lookup", map[string]any{"key": "b"}),
		)),
		llmtest.Reply(llmtest.ToolUse(150, 10, llmtest.Call("c3", "lookup", map[string]any{"key": "c"}))),
		llmtest.Reply(llmtest.Answer("done", 200, 30)),
	)
	var events []Event
	a := New(client, testRegistry(t), WithObserver(func(ev Event) { events = append(events, ev) }))

	res, err := a.Run(context.Background(), "q", "", DefaultMaxTurns)
	require.NoError(t, err)
	require.Equal(t, "done", res.Answer)
	require.Equal(t, types.UsageTally{InputTokens: 450, OutputTokens: 60, CapabilityCalls: 3, Turns: 3}, res.Usage)

	reqs := client.Requests()
	require.Len(t, reqs, 3)

	// Each request extends the previous one without touching earlier entries.
	for i := 1; i < len(reqs); i++ {
		prev, cur := reqs[i-1].Messages, reqs[i].Messages
		require.Len(t, cur, len(prev)+2)
		if diff := cmp.Diff(prev, cur[:len(prev)]); diff != "" {
			t.Fatalf("request %d rewrote history (-want +got):\n%s", i, diff)
		}
	}

	want := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.Block{llm.TextBlock("q")}},
		{Role: llm.RoleAssistant, Content: []llm.Block{
			llmtest.Call("c1", "lookup", map[string]any{"key": "a"}),
			llmtest.Call("c2", "lookup", map[string]any{"key": "b"}),
		}},
		{Role: llm.RoleUser, Content: []llm.Block{
			{Type: llm.BlockToolResult, ToolUseID: "c1", Name: "lookup", Content: "value of a"},
			{Type: llm.BlockToolResult, ToolUseID: "c2", Name: "lookup", Content: "value of b"},
		}},
		{Role: llm.RoleAssistant, Content: []llm.Block{llmtest.Call("c3", "lookup", map[string]any{"key": "c"})}},
		{Role: llm.RoleUser, Content: []llm.Block{
			{Type: llm.BlockToolResult, ToolUseID: "c3", Name: "lookup", Content: "value of c"},
		}},
	}
	if diff := cmp.Diff(want, reqs[2].Messages); diff != "" {
		t.Fatalf("final request messages (-want +got):\n%s", diff)
	}

	// One result per request across the whole run.
	var requested, resolved int
	for _, m := range reqs[2].Messages {
		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockToolUse:
				requested++
			case llm.BlockToolResult:
				resolved++
			}
		}
	}
	require.Equal(t, requested, resolved)

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []EventKind{
		EventToolCall, EventToolResult, EventToolCall, EventToolResult, EventTurn,
		EventToolCall, EventToolResult, EventTurn,
		EventAnswer,
	}, kinds)
}

func TestRun_CapabilityFailuresAreFedBack(t *testing.T) {
	t.Parallel()

	client := llmtest.NewScripted(
		llmtest.Reply(llmtest.ToolUse(10, 1,
			llmtest.Call("c1", "broken", nil),
			llmtest.Call("c2", "nonexistent", map[string]any{}),
			llmtest.Call("c3", "lookup", map[string]any{"key": 7}),
		)),
		llmtest.Reply(llmtest.Answer("sorry", 10, 1)),
	)
	a := New(client, testRegistry(t))

	res, err := a.Run(context.Background(), "q", "", DefaultMaxTurns)
	require.NoError(t, err)
	require.Equal(t, "sorry", res.Answer)
	require.Equal(t, 3, res.Usage.CapabilityCalls)

	results := client.Requests()[1].Messages[2].Content
	require.Len(t, results, 3)
	for _, b := range results {
		require.True(t, b.IsError)
	}
	require.Equal(t, "Error: service unavailable", results[0].Content)
	require.Equal(t, "Unknown capability: nonexistent", results[1].Content)
	require.Contains(t, results[2].Content, "Invalid arguments for lookup")
}

func TestRun_TurnBudgetExceededKeepsPartialUsage(t *testing.T) {
	t.Parallel()

	loop := llmtest.Reply(llmtest.ToolUse(10, 2, llmtest.Call("c", "lookup", map[string]any{"key": "k"})))
	client := llmtest.NewScripted(loop, loop, loop)
	a := New(client, testRegistry(t))

	res, err := a.Run(context.Background(), "q", "", 2)
	require.ErrorIs(t, err, ErrTurnBudgetExceeded)
	var budget *TurnBudgetError
	require.ErrorAs(t, err, &budget)
	want := types.UsageTally{InputTokens: 20, OutputTokens: 4, CapabilityCalls: 2, Turns: 2}
	require.Equal(t, want, budget.Usage)
	require.Equal(t, want, res.Usage)
	require.Equal(t, 2, client.Calls())
}

func TestRun_CompletionErrorKeepsPartialUsage(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	client := llmtest.NewScripted(
		llmtest.Reply(llmtest.ToolUse(30, 3, llmtest.Call("c", "lookup", map[string]any{"key": "k"}))),
		llmtest.Fail(boom),
	)
	a := New(client, testRegistry(t))

	_, err := a.Run(context.Background(), "q", "", DefaultMaxTurns)
	require.ErrorIs(t, err, boom)
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 2, ce.Turn)
	require.Equal(t, types.UsageTally{InputTokens: 30, OutputTokens: 3, CapabilityCalls: 1, Turns: 1}, ce.Usage)
	require.False(t, errors.Is(err, ErrTurnBudgetExceeded))
}

func TestRun_CompletionErrorCountsBilledUsage(t *testing.T) {
	t.Parallel()

	blocked := errors.New("no candidates returned")
	client := llmtest.NewScripted(func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Usage: llm.Usage{InputTokens: 100, OutputTokens: 320}}, blocked
	})

	res, err := New(client, testRegistry(t)).Run(context.Background(), "q", "", DefaultMaxTurns)
	require.ErrorIs(t, err, blocked)
	want := types.UsageTally{InputTokens: 100, OutputTokens: 320}
	require.Equal(t, want, res.Usage)
	usage, ok := PartialUsage(err)
	require.True(t, ok)
	require.Equal(t, want, usage)
}

func TestRun_ToolUseStopWithoutCallsIsFinal(t *testing.T) {
	t.Parallel()

	resp := llmtest.Answer("nothing to call", 5, 5)
	resp.StopReason = llm.StopToolUse
	client := llmtest.NewScripted(llmtest.Reply(resp))

	res, err := New(client, testRegistry(t)).Run(context.Background(), "q", "", DefaultMaxTurns)
	require.NoError(t, err)
	require.Equal(t, "nothing to call", res.Answer)
	require.Equal(t, 1, res.Usage.Turns)
}

func TestRun_NegativeTokenCountsIgnored(t *testing.T) {
	t.Parallel()

	client := llmtest.NewScripted(llmtest.Reply(llmtest.Answer("x", -5, 3)))
	res, err := New(client, nil).Run(context.Background(), "q", "", 1)
	require.NoError(t, err)
	require.Equal(t, types.UsageTally{OutputTokens: 3, Turns: 1}, res.Usage)
}

func TestRun_RunTimeout(t *testing.T) {
	t.Parallel()

	client := llmtest.Func(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
	})
	a := New(client, testRegistry(t), WithRunTimeout(10*time.Millisecond))

	_, err := a.Run(context.Background(), "q", "", DefaultMaxTurns)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConversationSnapshotIsolation(t *testing.T) {
	t.Parallel()

	input := map[string]any{"key": "a"}
	conv := NewConversation(llm.Message{Role: llm.RoleAssistant, Content: []llm.Block{llmtest.Call("c", "lookup", input)}})
	input["key"] = "mutated"

	snap := conv.Snapshot()
	snap[0].Content[0].Input["key"] = "also mutated"

	require.Equal(t, "a", conv.Snapshot()[0].Content[0].Input["key"])
	require.Equal(t, 1, conv.Len())
}
