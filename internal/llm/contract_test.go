package llm

import "testing"

func TestSanitizeToolName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"search_files", "search_files"},
		{"fs.read", "fs_read"},
		{"  spaced name ", "spaced_name"},
		{"___", "tool"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := sanitizeToolName(tc.in); got != tc.want {
			t.Fatalf("sanitizeToolName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCollectSystemPrompt(t *testing.T) {
	messages := []Message{
		TextMessage("system", "first"),
		TextMessage("user", "hello"),
		TextMessage("system", "second"),
	}
	if got := collectSystemPrompt(messages); got != "first\n\nsecond" {
		t.Fatalf("collectSystemPrompt = %q", got)
	}
}

func TestAssistantToolCallMessage(t *testing.T) {
	msg := AssistantToolCallMessage("running a search", []ToolCall{
		{ID: "call-1", Name: "search_files", Args: map[string]any{"query": "foo"}},
	})
	if msg.Role != "assistant" {
		t.Fatalf("role %q", msg.Role)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("expected text part plus call part, got %d", len(msg.Content))
	}
	call := msg.Content[1]
	if call.Type != "tool_call" || call.ToolCallID != "call-1" || call.ToolName != "search_files" {
		t.Fatalf("unexpected call part %+v", call)
	}
	if call.ArgsJSON != `{"query":"foo"}` {
		t.Fatalf("args json %q", call.ArgsJSON)
	}
}

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("call-1", "search_files", "no matches")
	if msg.Role != "tool" {
		t.Fatalf("role %q", msg.Role)
	}
	part := msg.Content[0]
	if part.Type != "tool_result" || part.ToolCallID != "call-1" || part.ToolName != "search_files" || part.Text != "no matches" {
		t.Fatalf("unexpected part %+v", part)
	}
}
