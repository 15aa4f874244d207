package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/atelierhq/coderd/internal/llm"
)

// scriptedClient plays back prepared turn results, emitting the prepared
// stream events before each result.
type scriptedClient struct {
	turns    []llm.TurnResult
	streams  [][]llm.StreamEvent
	requests []llm.TurnRequest
}

func (c *scriptedClient) StreamTurn(ctx context.Context, req llm.TurnRequest, onEvent func(llm.StreamEvent)) (llm.TurnResult, error) {
	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i >= len(c.turns) {
		return llm.TurnResult{}, errors.New("no scripted turn left")
	}
	if onEvent != nil && i < len(c.streams) {
		for _, ev := range c.streams[i] {
			onEvent(ev)
		}
	}
	return c.turns[i], nil
}

func (c *scriptedClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return "", errors.New("not scripted")
}

func collectEvents(events *[]Event) func(Event) {
	return func(e Event) { *events = append(*events, e) }
}

func TestWorkflowTextOnlyTurn(t *testing.T) {
	client := &scriptedClient{
		turns: []llm.TurnResult{{FinishReason: "stop", Text: "Hi there"}},
		streams: [][]llm.StreamEvent{{
			{Type: llm.StreamEventTextDelta, Text: "Hi"},
			{Type: llm.StreamEventTextDelta, Text: " there"},
		}},
	}
	w := &Workflow{Client: client, SystemPrompt: "be nice"}
	state := &State{}

	var events []Event
	if err := w.Run(context.Background(), state, "hello", collectEvents(&events)); err != nil {
		t.Fatal(err)
	}

	wantTypes := []EventType{EventAgentInput, EventAgentStream, EventAgentStream, EventAgentOutput, EventStop}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: got %s, want %s", i, events[i].Type, want)
		}
	}
	if events[1].Delta != "Hi" || events[2].Delta != " there" {
		t.Errorf("unexpected deltas: %+v", events[1:3])
	}

	if len(state.Messages) != 2 {
		t.Fatalf("state should hold user+assistant, got %d", len(state.Messages))
	}
	if state.Messages[0].Role != "user" || state.Messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %+v", state.Messages)
	}

	// The system prompt travels as the leading request message, not in state.
	req := client.requests[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("unexpected request messages: %+v", req.Messages)
	}
}

func TestWorkflowToolRound(t *testing.T) {
	var gotArgs map[string]any
	echo := Tool{
		Def: llm.ToolDef{Name: "echo"},
		Run: func(ctx context.Context, args map[string]any) string {
			gotArgs = args
			return fmt.Sprintf("echoed:%v", args["value"])
		},
	}

	client := &scriptedClient{
		turns: []llm.TurnResult{
			{FinishReason: "tool_calls", Text: "Looking…", ToolCalls: []llm.ToolCall{
				{ID: "t1", Name: "echo", Args: map[string]any{"value": "foo"}},
			}},
			{FinishReason: "stop", Text: "Done."},
		},
		streams: [][]llm.StreamEvent{
			{{Type: llm.StreamEventTextDelta, Text: "Looking…"}},
			{{Type: llm.StreamEventTextDelta, Text: "Done."}},
		},
	}
	w := &Workflow{Client: client, Tools: []Tool{echo}}
	state := &State{}

	var events []Event
	if err := w.Run(context.Background(), state, "go", collectEvents(&events)); err != nil {
		t.Fatal(err)
	}

	var call, result *Event
	for i := range events {
		switch events[i].Type {
		case EventToolCall:
			call = &events[i]
		case EventToolCallResult:
			result = &events[i]
		}
	}
	if call == nil || result == nil {
		t.Fatalf("missing tool events: %+v", events)
	}
	if call.ToolRunID == "" || call.ToolRunID != result.ToolRunID {
		t.Errorf("run id mismatch: call=%q result=%q", call.ToolRunID, result.ToolRunID)
	}
	if call.ToolKwargs[RunIDKey] != call.ToolRunID {
		t.Errorf("kwargs missing injected run id: %+v", call.ToolKwargs)
	}
	if result.ToolOutput != "echoed:foo" || result.IsError {
		t.Errorf("unexpected result event: %+v", result)
	}
	if _, leaked := gotArgs[RunIDKey]; leaked {
		t.Error("run id must not reach the tool function")
	}

	// user, assistant(tool call), tool result, assistant.
	roles := make([]string, 0, len(state.Messages))
	for _, m := range state.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected history roles: %v", roles)
	}

	// The second round replays the tool result to the provider.
	second := client.requests[1]
	foundResult := false
	for _, m := range second.Messages {
		if m.Role == "tool" {
			foundResult = true
		}
	}
	if !foundResult {
		t.Error("second request missing tool result message")
	}
}

func TestWorkflowUnknownTool(t *testing.T) {
	client := &scriptedClient{
		turns: []llm.TurnResult{
			{FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{{ID: "t1", Name: "nope"}}},
			{FinishReason: "stop", Text: "ok"},
		},
	}
	w := &Workflow{Client: client}
	state := &State{}

	var events []Event
	if err := w.Run(context.Background(), state, "go", collectEvents(&events)); err != nil {
		t.Fatal(err)
	}

	for _, e := range events {
		if e.Type == EventToolCallResult {
			if !e.IsError || !strings.Contains(e.ToolOutput, "Tool nope not found") {
				t.Errorf("unexpected unknown-tool result: %+v", e)
			}
			return
		}
	}
	t.Fatal("no tool result event emitted")
}

func TestWorkflowMaxIterations(t *testing.T) {
	looping := llm.TurnResult{FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{{ID: "t", Name: "spin"}}}
	client := &scriptedClient{
		turns: []llm.TurnResult{looping, looping, looping, looping},
	}
	spin := Tool{
		Def: llm.ToolDef{Name: "spin"},
		Run: func(ctx context.Context, args map[string]any) string { return "again" },
	}
	w := &Workflow{Client: client, Tools: []Tool{spin}, MaxIterations: 3}

	err := w.Run(context.Background(), &State{}, "go", nil)
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
	if len(client.requests) != 3 {
		t.Errorf("expected exactly 3 rounds, got %d", len(client.requests))
	}
}

func TestWorkflowCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{turns: []llm.TurnResult{{FinishReason: "stop"}}}
	w := &Workflow{Client: client}
	state := &State{}

	err := w.Run(ctx, state, "go", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// The user message is already in state so a retry can rebuild from it.
	if len(state.Messages) != 1 || state.Messages[0].Role != "user" {
		t.Errorf("unexpected state after cancel: %+v", state.Messages)
	}
}

func TestStateRoundTrip(t *testing.T) {
	state := &State{Messages: []llm.Message{
		llm.TextMessage("user", "hi"),
		llm.AssistantToolCallMessage("look", []llm.ToolCall{{ID: "t1", Name: "grep", Args: map[string]any{"pattern": "foo"}}}),
		llm.ToolResultMessage("t1", "grep", "3 matches"),
		llm.TextMessage("assistant", "Found 3."),
	}}

	raw, err := state.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadState(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != len(state.Messages) {
		t.Fatalf("message count changed: %d != %d", len(loaded.Messages), len(state.Messages))
	}
	for i := range state.Messages {
		if loaded.Messages[i].Role != state.Messages[i].Role {
			t.Errorf("message %d role changed", i)
		}
	}
	if loaded.Messages[2].Content[0].ToolCallID != "t1" {
		t.Errorf("tool result lost its call id: %+v", loaded.Messages[2])
	}

	fresh, err := LoadState("")
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.Messages) != 0 {
		t.Errorf("empty snapshot should load fresh state, got %+v", fresh)
	}
}

func TestTrimHistory(t *testing.T) {
	msg := func(role string) llm.Message { return llm.TextMessage(role, "x") }
	history := []llm.Message{
		msg("user"), msg("assistant"),
		msg("user"), msg("assistant"), msg("tool"), msg("assistant"),
		msg("user"),
	}

	tests := []struct {
		max       int
		wantLen   int
		wantFirst string
	}{
		{0, 7, "user"},  // disabled
		{10, 7, "user"}, // under cap
		{6, 5, "user"},  // cut advances past the assistant/tool tail
		{1, 1, "user"},
	}
	for _, tc := range tests {
		got := trimHistory(history, tc.max)
		if len(got) != tc.wantLen || got[0].Role != tc.wantFirst {
			t.Errorf("max=%d: got len=%d first=%s, want len=%d first=%s",
				tc.max, len(got), got[0].Role, tc.wantLen, tc.wantFirst)
		}
	}
}
