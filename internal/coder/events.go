// Package coder drives the conversational turn pipeline: it starts turns,
// runs the agent workflow, translates raw workflow events into the client
// event stream and persists the result.
package coder

import (
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/usage"
)

type EventType string

const (
	EventAIMessageBlockStart   EventType = "ai_message_block_start"
	EventAIMessageChunk        EventType = "ai_message_chunk"
	EventAIMessageCompleted    EventType = "ai_message_completed"
	EventToolCall              EventType = "tool_call"
	EventToolCallResult        EventType = "tool_call_result"
	EventAgentState            EventType = "agent_state"
	EventWorkflowLog           EventType = "workflow_log"
	EventWorkflowError         EventType = "workflow_error"
	EventUsageMetricsUpdated   EventType = "usage_metrics_updated"
	EventSingleShotDiffApplied EventType = "single_shot_diff_applied"
	EventContextFilesUpdated   EventType = "context_files_updated"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogError LogLevel = "error"
)

// ContextFileRef identifies one active context file in a
// context_files_updated payload.
type ContextFileRef struct {
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
}

// Event is one entry of the client-facing turn stream. Type selects which
// fields carry the payload; everything else stays at its zero value and is
// omitted on the wire.
type Event struct {
	Type EventType `json:"type"`

	BlockID string `json:"block_id,omitempty"`
	Delta   string `json:"delta,omitempty"`

	Message *store.Message `json:"ai_message,omitempty"`

	ToolName   string         `json:"tool_name,omitempty"`
	ToolKwargs map[string]any `json:"tool_kwargs,omitempty"`
	ToolID     string         `json:"tool_id,omitempty"`
	ToolRunID  string         `json:"tool_run_id,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`

	// Status is meaningful only on agent_state events; the empty string
	// clears the client's status line.
	Status string `json:"status,omitempty"`

	LogMessage string   `json:"message,omitempty"`
	Level      LogLevel `json:"level,omitempty"`

	ErrorMessage    string `json:"error_message,omitempty"`
	OriginalMessage string `json:"original_message,omitempty"`

	Metrics *usage.Metrics `json:"metrics,omitempty"`

	FilePath string `json:"file_path,omitempty"`
	Output   string `json:"output,omitempty"`

	SessionID int64            `json:"session_id,omitempty"`
	Files     []ContextFileRef `json:"files,omitempty"`
}

func BlockStartEvent(blockID string) Event {
	return Event{Type: EventAIMessageBlockStart, BlockID: blockID}
}

func ChunkEvent(blockID string, delta string) Event {
	return Event{Type: EventAIMessageChunk, BlockID: blockID, Delta: delta}
}

func MessageCompletedEvent(msg *store.Message) Event {
	return Event{Type: EventAIMessageCompleted, Message: msg}
}

func ToolCallEvent(name string, kwargs map[string]any, toolID string, runID string) Event {
	return Event{Type: EventToolCall, ToolName: name, ToolKwargs: kwargs, ToolID: toolID, ToolRunID: runID}
}

func ToolCallResultEvent(name string, kwargs map[string]any, toolID string, runID string, output string) Event {
	return Event{
		Type:       EventToolCallResult,
		ToolName:   name,
		ToolKwargs: kwargs,
		ToolID:     toolID,
		ToolRunID:  runID,
		ToolOutput: output,
	}
}

func AgentStateEvent(status string) Event {
	return Event{Type: EventAgentState, Status: status}
}

func WorkflowLogEvent(message string, level LogLevel) Event {
	return Event{Type: EventWorkflowLog, LogMessage: message, Level: level}
}

func WorkflowErrorEvent(message string, originalMessage string) Event {
	return Event{Type: EventWorkflowError, ErrorMessage: message, OriginalMessage: originalMessage}
}

func UsageMetricsEvent(m usage.Metrics) Event {
	return Event{Type: EventUsageMetricsUpdated, Metrics: &m}
}

func SingleShotDiffAppliedEvent(filePath string, output string) Event {
	return Event{Type: EventSingleShotDiffApplied, FilePath: filePath, Output: output}
}

func ContextFilesUpdatedEvent(sessionID int64, files []ContextFileRef) Event {
	return Event{Type: EventContextFilesUpdated, SessionID: sessionID, Files: files}
}
