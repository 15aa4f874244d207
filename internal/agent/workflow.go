package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/atelierhq/coderd/internal/llm"
)

// RunIDKey is the correlation id injected into the kwargs of every emitted
// tool call event. Some providers reuse tool ids within a turn, so the
// matching of call and result events relies on this id instead. It never
// reaches the tool function itself.
const RunIDKey = "_run_id"

// DefaultMaxIterations bounds the number of model rounds in one turn.
const DefaultMaxIterations = 20

var ErrMaxIterations = fmt.Errorf("max iterations reached")

type EventType string

const (
	EventAgentInput     EventType = "agent_input"
	EventAgentStream    EventType = "agent_stream"
	EventAgentOutput    EventType = "agent_output"
	EventToolCall       EventType = "tool_call"
	EventToolCallResult EventType = "tool_call_result"
	EventStop           EventType = "stop"
)

// Event is one raw workflow event. Which fields are set depends on Type:
// agent_stream carries Delta or ThinkingDelta (or the ToolCalls snapshot once
// the round requested tools), tool_call carries the call identity and kwargs,
// tool_call_result additionally carries the output.
type Event struct {
	Type          EventType
	Delta         string
	ThinkingDelta string
	Text          string
	ToolCalls     []llm.ToolCall
	ToolName      string
	ToolID        string
	ToolRunID     string
	ToolKwargs    map[string]any
	ToolOutput    string
	IsError       bool
}

// State is the serializable workflow context: the full message history of
// the session as sent to the provider. It survives turns via the store and
// round-trips through JSON unchanged.
type State struct {
	Messages []llm.Message `json:"messages"`
}

// LoadState rehydrates a state snapshot. An empty snapshot yields a fresh
// state.
func LoadState(raw string) (*State, error) {
	st := &State{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), st); err != nil {
		return nil, fmt.Errorf("decode workflow state: %w", err)
	}
	return st, nil
}

func (s *State) Serialize() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode workflow state: %w", err)
	}
	return string(raw), nil
}

// Workflow runs the tool-calling loop for one turn: stream a model round,
// execute any requested tools, feed the results back, repeat until the model
// answers without tools or the iteration budget runs out.
type Workflow struct {
	Client       llm.Client
	Tools        []Tool
	SystemPrompt string
	// MaxIterations defaults to DefaultMaxIterations when zero.
	MaxIterations int
	// MaxHistory caps the number of history messages sent per round. Zero
	// disables the cap.
	MaxHistory int
	// MaxHistoryTokens caps the estimated token size of the history sent per
	// round. Zero disables the cap.
	MaxHistoryTokens int
	Logger           *slog.Logger
}

func (w *Workflow) log() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run appends the user message to state, executes model rounds until the
// model stops calling tools and emits raw events along the way. State is
// mutated in place so the caller can snapshot it after the run, including
// after a mid-run cancellation.
func (w *Workflow) Run(ctx context.Context, state *State, userMessage string, onEvent func(Event)) error {
	emit := func(e Event) {
		if onEvent != nil {
			onEvent(e)
		}
	}

	defs := make([]llm.ToolDef, 0, len(w.Tools))
	byName := make(map[string]Tool, len(w.Tools))
	for _, tool := range w.Tools {
		defs = append(defs, tool.Def)
		byName[tool.Def.Name] = tool
	}

	state.Messages = append(state.Messages, llm.TextMessage("user", userMessage))

	maxIterations := w.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	for iteration := 0; ; iteration++ {
		if iteration >= maxIterations {
			return fmt.Errorf("%w after %d rounds", ErrMaxIterations, maxIterations)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		emit(Event{Type: EventAgentInput})

		result, err := w.Client.StreamTurn(ctx, llm.TurnRequest{
			Messages: w.roundMessages(state),
			Tools:    defs,
		}, func(ev llm.StreamEvent) {
			switch ev.Type {
			case llm.StreamEventTextDelta:
				emit(Event{Type: EventAgentStream, Delta: ev.Text})
			case llm.StreamEventThinkingDelta:
				emit(Event{Type: EventAgentStream, ThinkingDelta: ev.Text})
			}
		})
		if err != nil {
			return err
		}

		state.Messages = append(state.Messages, llm.AssistantToolCallMessage(result.Text, result.ToolCalls))

		if len(result.ToolCalls) == 0 {
			emit(Event{Type: EventAgentOutput, Text: result.Text})
			emit(Event{Type: EventStop, Text: result.Text})
			return nil
		}

		emit(Event{Type: EventAgentStream, ToolCalls: result.ToolCalls})

		for _, call := range result.ToolCalls {
			if err := ctx.Err(); err != nil {
				return err
			}

			runID := uuid.NewString()
			kwargs := make(map[string]any, len(call.Args)+1)
			for k, v := range call.Args {
				kwargs[k] = v
			}
			kwargs[RunIDKey] = runID

			emit(Event{
				Type:       EventToolCall,
				ToolName:   call.Name,
				ToolID:     call.ID,
				ToolRunID:  runID,
				ToolKwargs: kwargs,
			})

			output, isError := w.executeTool(ctx, byName, call)

			emit(Event{
				Type:       EventToolCallResult,
				ToolName:   call.Name,
				ToolID:     call.ID,
				ToolRunID:  runID,
				ToolKwargs: kwargs,
				ToolOutput: output,
				IsError:    isError,
			})

			state.Messages = append(state.Messages, llm.ToolResultMessage(call.ID, call.Name, output))
		}

		emit(Event{Type: EventAgentOutput, Text: result.Text, ToolCalls: result.ToolCalls})
	}
}

func (w *Workflow) executeTool(ctx context.Context, byName map[string]Tool, call llm.ToolCall) (string, bool) {
	tool, ok := byName[call.Name]
	if !ok {
		return fmt.Sprintf("Tool %s not found. Please select a tool that is available.", call.Name), true
	}
	// call.Args never contains the injected run id; it only exists in the
	// emitted event kwargs.
	output := tool.Run(ctx, call.Args)
	w.log().Debug("tool executed", "tool", call.Name, "tool_id", call.ID, "output_len", len(output))
	return output, false
}

func (w *Workflow) roundMessages(state *State) []llm.Message {
	history := trimHistory(state.Messages, w.MaxHistory)
	history = trimHistoryTokens(history, w.MaxHistoryTokens)

	msgs := make([]llm.Message, 0, len(history)+1)
	if strings.TrimSpace(w.SystemPrompt) != "" {
		msgs = append(msgs, llm.TextMessage("system", w.SystemPrompt))
	}
	return append(msgs, history...)
}

// trimHistory drops the oldest messages above the cap. The cut always lands
// on a user message so a tool result is never sent without the assistant
// call that produced it.
func trimHistory(msgs []llm.Message, max int) []llm.Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	start := len(msgs) - max
	for start < len(msgs) && msgs[start].Role != "user" {
		start++
	}
	if start >= len(msgs) {
		start = len(msgs) - 1
	}
	return msgs[start:]
}

// trimHistoryTokens drops whole user-to-user segments from the front until
// the estimated size fits the budget. The most recent segment is always
// kept.
func trimHistoryTokens(msgs []llm.Message, maxTokens int) []llm.Message {
	if maxTokens <= 0 {
		return msgs
	}
	for len(msgs) > 1 && llm.MessagesTokenCount(msgs) > maxTokens {
		cut := 1
		for cut < len(msgs) && msgs[cut].Role != "user" {
			cut++
		}
		if cut >= len(msgs) {
			break
		}
		msgs = msgs[cut:]
	}
	return msgs
}
