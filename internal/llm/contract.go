package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// StreamEventType is the normalized stream event kind produced by provider
// adapters.
type StreamEventType string

const (
	StreamEventTextDelta     StreamEventType = "text_delta"
	StreamEventToolCallStart StreamEventType = "tool_call_start"
	StreamEventToolCallDelta StreamEventType = "tool_call_delta"
	StreamEventToolCallEnd   StreamEventType = "tool_call_end"
	StreamEventThinkingDelta StreamEventType = "thinking_delta"
	StreamEventUsage         StreamEventType = "usage"
	StreamEventFinishReason  StreamEventType = "finish_reason"
)

// PartialToolCall carries the incremental state of a tool call while its
// arguments are still streaming.
type PartialToolCall struct {
	ID            string         `json:"id,omitempty"`
	Name          string         `json:"name,omitempty"`
	ArgumentsJSON string         `json:"arguments_json,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
}

type PartialUsage struct {
	InputTokens     int64 `json:"input_tokens,omitempty"`
	OutputTokens    int64 `json:"output_tokens,omitempty"`
	CachedTokens    int64 `json:"cached_tokens,omitempty"`
	ReasoningTokens int64 `json:"reasoning_tokens,omitempty"`
}

type StreamEvent struct {
	Type       StreamEventType  `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *PartialToolCall `json:"tool_call,omitempty"`
	Usage      *PartialUsage    `json:"usage,omitempty"`
	FinishHint string           `json:"finish_hint,omitempty"`
}

// ContentPart is one block of a message. Type is one of "text", "tool_call"
// or "tool_result".
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsJSON   string `json:"args_json,omitempty"`
	JSON       []byte `json:"json,omitempty"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextMessage builds a single-part text message for the given role.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: "text", Text: text}}}
}

// ToolResultMessage builds the tool-role message carrying one execution
// result. The call id correlates with the originating tool_call; the tool
// name is required by providers that key responses by function name.
func ToolResultMessage(callID, toolName, output string) Message {
	return Message{Role: "tool", Content: []ContentPart{{
		Type:       "tool_result",
		ToolCallID: callID,
		ToolName:   toolName,
		Text:       output,
	}}}
}

// AssistantToolCallMessage records a prior assistant turn that invoked tools,
// so the next request replays the call history the provider expects.
func AssistantToolCallMessage(text string, calls []ToolCall) Message {
	parts := make([]ContentPart, 0, len(calls)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, ContentPart{Type: "text", Text: text})
	}
	for _, call := range calls {
		raw, _ := json.Marshal(call.Args)
		parts = append(parts, ContentPart{
			Type:       "tool_call",
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ArgsJSON:   string(raw),
		})
	}
	return Message{Role: "assistant", Content: parts}
}

type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type TurnUsage struct {
	InputTokens     int64 `json:"input_tokens,omitempty"`
	OutputTokens    int64 `json:"output_tokens,omitempty"`
	CachedTokens    int64 `json:"cached_tokens,omitempty"`
	ReasoningTokens int64 `json:"reasoning_tokens,omitempty"`
}

type TurnRequest struct {
	Messages        []Message `json:"messages"`
	Tools           []ToolDef `json:"tools,omitempty"`
	MaxOutputTokens int       `json:"max_output_tokens,omitempty"`
}

type TurnResult struct {
	FinishReason string         `json:"finish_reason"`
	Text         string         `json:"text,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Usage        TurnUsage      `json:"usage,omitempty"`
	ProviderDiag map[string]any `json:"provider_diag,omitempty"`
}

// Client is the normalized provider adapter contract. StreamTurn runs one
// model turn, invoking onEvent for every stream event; Complete is the
// non-streaming convenience used for secondary model calls such as diff
// reconstruction.
type Client interface {
	StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error)
	Complete(ctx context.Context, system string, userMessages ...string) (string, error)
}

func emitEvent(onEvent func(StreamEvent), event StreamEvent) {
	if onEvent != nil {
		onEvent(event)
	}
}

// completeViaStream implements Complete on top of StreamTurn for adapters
// that have no cheaper non-streaming path.
func completeViaStream(ctx context.Context, c Client, system string, userMessages []string) (string, error) {
	msgs := make([]Message, 0, len(userMessages)+1)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, TextMessage("system", system))
	}
	for _, um := range userMessages {
		msgs = append(msgs, TextMessage("user", um))
	}
	result, err := c.StreamTurn(ctx, TurnRequest{Messages: msgs}, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func collectSystemPrompt(messages []Message) string {
	parts := make([]string, 0, 2)
	for _, msg := range messages {
		if strings.ToLower(strings.TrimSpace(msg.Role)) != "system" {
			continue
		}
		if txt := joinMessageText(msg); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n\n")
}

func joinMessageText(msg Message) string {
	parts := make([]string, 0, len(msg.Content))
	for _, part := range msg.Content {
		if strings.ToLower(strings.TrimSpace(part.Type)) != "text" {
			continue
		}
		if txt := strings.TrimSpace(part.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeToolName maps tool names onto the provider-safe character set.
// The alias-to-real map the builders return undoes the mapping on the way
// back out.
func sanitizeToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var sb strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			sb.WriteRune(ch)
		case ch == '_' || ch == '-':
			sb.WriteRune(ch)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_-")
	if out == "" {
		return "tool"
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
