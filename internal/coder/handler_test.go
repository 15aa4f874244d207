package coder

import (
	"testing"

	"github.com/atelierhq/coderd/internal/agent"
	"github.com/atelierhq/coderd/internal/llm"
)

func newHandler() (*TurnEventHandler, *MessageAccumulator) {
	acc := NewMessageAccumulator(1, "turn-1")
	return NewTurnEventHandler(acc, nil), acc
}

func TestHandlerStreamDeltas(t *testing.T) {
	h, _ := newHandler()

	first := h.Handle(agent.Event{Type: agent.EventAgentStream, Delta: "Hi"})
	if len(first) != 2 || first[0].Type != EventAIMessageBlockStart || first[1].Type != EventAIMessageChunk {
		t.Fatalf("first delta events = %+v", first)
	}
	if first[1].Delta != "Hi" || first[1].BlockID != first[0].BlockID {
		t.Fatalf("chunk mismatch: %+v", first[1])
	}

	second := h.Handle(agent.Event{Type: agent.EventAgentStream, Delta: " there"})
	if len(second) != 1 || second[0].Type != EventAIMessageChunk {
		t.Fatalf("second delta events = %+v", second)
	}
	if second[0].BlockID != first[0].BlockID {
		t.Fatal("block id changed between deltas of the same block")
	}
}

func TestHandlerThinkingDeltaIsDropped(t *testing.T) {
	h, _ := newHandler()
	if out := h.Handle(agent.Event{Type: agent.EventAgentStream, ThinkingDelta: "mulling"}); out != nil {
		t.Fatalf("thinking delta produced events: %+v", out)
	}
}

func TestHandlerToolCallsSnapshot(t *testing.T) {
	h, _ := newHandler()
	out := h.Handle(agent.Event{Type: agent.EventAgentStream, ToolCalls: []llm.ToolCall{{Name: "a"}, {Name: "b"}}})
	if len(out) != 1 || out[0].Type != EventAgentState || out[0].Status != "Calling 2 tools..." {
		t.Fatalf("snapshot events = %+v", out)
	}
}

func TestHandlerToolCallAndResult(t *testing.T) {
	h, acc := newHandler()

	kwargs := map[string]any{"pattern": "foo", agent.RunIDKey: "run-1"}
	out := h.Handle(agent.Event{
		Type:       agent.EventToolCall,
		ToolName:   "grep_search",
		ToolID:     "t1",
		ToolRunID:  "run-1",
		ToolKwargs: kwargs,
	})
	if len(out) != 2 {
		t.Fatalf("tool call events = %+v", out)
	}
	if out[0].Type != EventAgentState || out[0].Status != "Calling tool `grep_search`..." {
		t.Fatalf("state event = %+v", out[0])
	}
	call := out[1]
	if call.Type != EventToolCall || call.ToolRunID != "run-1" || call.ToolID != "t1" {
		t.Fatalf("call event = %+v", call)
	}
	if _, ok := call.ToolKwargs[agent.RunIDKey]; ok {
		t.Fatal("run id must be stripped from emitted kwargs")
	}
	if call.ToolKwargs["pattern"] != "foo" {
		t.Fatalf("kwargs = %+v", call.ToolKwargs)
	}

	out = h.Handle(agent.Event{
		Type:       agent.EventToolCallResult,
		ToolName:   "grep_search",
		ToolID:     "t1",
		ToolRunID:  "run-1",
		ToolKwargs: kwargs,
		ToolOutput: "3 matches",
	})
	if len(out) != 1 || out[0].Type != EventToolCallResult || out[0].ToolOutput != "3 matches" {
		t.Fatalf("result events = %+v", out)
	}

	blocks := acc.Blocks()
	if len(blocks) != 1 || blocks[0].ToolCallData == nil {
		t.Fatalf("blocks = %+v", blocks)
	}
	if got := blocks[0].ToolCallData.Output; got == nil || *got != "3 matches" {
		t.Fatalf("stored output = %v", got)
	}
	if _, ok := blocks[0].ToolCallData.Kwargs[agent.RunIDKey]; ok {
		t.Fatal("run id must not be persisted in block kwargs")
	}
}

func TestHandlerLifecycleEvents(t *testing.T) {
	h, _ := newHandler()

	out := h.Handle(agent.Event{Type: agent.EventAgentInput})
	if len(out) != 1 || out[0].Status != "Agent is planning next steps..." {
		t.Fatalf("agent input events = %+v", out)
	}

	out = h.Handle(agent.Event{Type: agent.EventAgentOutput, Text: "done"})
	if len(out) != 2 || out[0].Type != EventWorkflowLog || out[1].Type != EventAgentState || out[1].Status != "" {
		t.Fatalf("agent output events = %+v", out)
	}
	if out[0].LogMessage != "Agent step completed. Output: done..." {
		t.Fatalf("log message = %q", out[0].LogMessage)
	}

	out = h.Handle(agent.Event{Type: agent.EventAgentOutput})
	if out[0].LogMessage != "Agent step completed." {
		t.Fatalf("log message without output = %q", out[0].LogMessage)
	}

	out = h.Handle(agent.Event{Type: agent.EventStop})
	if len(out) != 1 || out[0].Type != EventAgentState || out[0].Status != "" {
		t.Fatalf("stop events = %+v", out)
	}
}

func TestHandlerUnknownEventIsNoop(t *testing.T) {
	h, _ := newHandler()
	if out := h.Handle(agent.Event{Type: agent.EventType("surprise")}); out != nil {
		t.Fatalf("unknown event produced: %+v", out)
	}
}
