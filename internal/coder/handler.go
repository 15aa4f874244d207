package coder

import (
	"fmt"
	"log/slog"

	"github.com/atelierhq/coderd/internal/agent"
)

// TurnEventHandler translates raw workflow events into client events while
// feeding the accumulator. It is stateful for exactly one turn.
type TurnEventHandler struct {
	acc *MessageAccumulator
	log *slog.Logger
}

func NewTurnEventHandler(acc *MessageAccumulator, logger *slog.Logger) *TurnEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnEventHandler{acc: acc, log: logger}
}

// Handle maps one raw event to zero or more client events. Unknown event
// types are dropped.
func (h *TurnEventHandler) Handle(ev agent.Event) []Event {
	switch ev.Type {
	case agent.EventAgentStream:
		if ev.Delta != "" {
			blockID, started := h.acc.AppendText(ev.Delta)
			var out []Event
			if started {
				out = append(out, BlockStartEvent(blockID))
			}
			return append(out, ChunkEvent(blockID, ev.Delta))
		}
		if len(ev.ToolCalls) > 0 {
			return []Event{AgentStateEvent(fmt.Sprintf("Calling %d tools...", len(ev.ToolCalls)))}
		}
		// Thinking deltas are not part of the client stream.
		return nil

	case agent.EventToolCall:
		runID := runIDFrom(ev)
		kwargs := stripRunID(ev.ToolKwargs)
		h.acc.AddToolCall(runID, ev.ToolID, ev.ToolName, kwargs)
		return []Event{
			AgentStateEvent(fmt.Sprintf("Calling tool `%s`...", ev.ToolName)),
			ToolCallEvent(ev.ToolName, kwargs, ev.ToolID, runID),
		}

	case agent.EventToolCallResult:
		runID := runIDFrom(ev)
		if !h.acc.AddToolResult(runID, ev.ToolOutput) {
			h.log.Warn("tool result without matching call block", "tool", ev.ToolName, "run_id", runID)
		}
		return []Event{ToolCallResultEvent(ev.ToolName, stripRunID(ev.ToolKwargs), ev.ToolID, runID, ev.ToolOutput)}

	case agent.EventAgentInput:
		return []Event{AgentStateEvent("Agent is planning next steps...")}

	case agent.EventAgentOutput:
		msg := "Agent step completed."
		if ev.Text != "" {
			msg += fmt.Sprintf(" Output: %.50s...", ev.Text)
		}
		return []Event{WorkflowLogEvent(msg, LogInfo), AgentStateEvent("")}

	case agent.EventStop:
		return []Event{AgentStateEvent("")}
	}
	return nil
}

// runIDFrom prefers the correlation id injected into the event kwargs and
// falls back to the event field. Tool ids alone are unreliable; some
// providers reuse them within a turn.
func runIDFrom(ev agent.Event) string {
	if id, ok := ev.ToolKwargs[agent.RunIDKey].(string); ok && id != "" {
		return id
	}
	return ev.ToolRunID
}

// stripRunID removes the injected correlation id so it never reaches
// persisted blocks or the client payload.
func stripRunID(kwargs map[string]any) map[string]any {
	if kwargs == nil {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if k == agent.RunIDKey {
			continue
		}
		out[k] = v
	}
	return out
}
