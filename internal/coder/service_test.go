package coder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/atelierhq/coderd/internal/agent"
	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/llm"
	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/usage"
	"github.com/atelierhq/coderd/internal/workspace"
)

type scriptedTurn struct {
	deltas []string
	result llm.TurnResult
	usage  *usage.Event
	// waitCancel parks the call until the context is cancelled after the
	// deltas went out.
	waitCancel bool
}

type scriptedClient struct {
	mu    sync.Mutex
	turns []scriptedTurn
	calls int
}

func (c *scriptedClient) StreamTurn(ctx context.Context, req llm.TurnRequest, onEvent func(llm.StreamEvent)) (llm.TurnResult, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	c.mu.Unlock()
	if idx >= len(c.turns) {
		return llm.TurnResult{}, fmt.Errorf("unexpected model round %d", idx)
	}
	turn := c.turns[idx]
	for _, d := range turn.deltas {
		if onEvent != nil {
			onEvent(llm.StreamEvent{Type: llm.StreamEventTextDelta, Text: d})
		}
	}
	if turn.waitCancel {
		<-ctx.Done()
		return llm.TurnResult{}, ctx.Err()
	}
	if turn.usage != nil {
		usage.Record(ctx, *turn.usage)
	}
	return turn.result, nil
}

func (c *scriptedClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return "", nil
}

type fakeBuilder struct {
	client llm.Client
	tools  []agent.Tool
}

func (b *fakeBuilder) BuildAgent(ctx context.Context, sessionID int64, turnID string, settings store.Settings) (*agent.Workflow, error) {
	return &agent.Workflow{Client: b.client, Tools: b.tools, SystemPrompt: "system"}, nil
}

type serviceFixture struct {
	svc     *CoderService
	store   *store.Store
	session *store.ChatSession
	root    string
}

func newServiceFixture(t *testing.T, mode store.OperationalMode, client llm.Client, tools []agent.Tool) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "coderd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSettings(ctx); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	project, err := st.CreateProject(ctx, "demo", root)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetActiveProject(ctx, project.ID); err != nil {
		t.Fatal(err)
	}
	session, err := st.CreateSession(ctx, project.ID, "", mode)
	if err != nil {
		t.Fatal(err)
	}

	cb := codebase.NewService(codebase.Options{})
	ws := workspace.NewService(workspace.Options{Store: st, Codebase: cb})
	patches := patch.NewDiffPatchService(st, nil, patch.NewCodexProcessor(st), nil)

	svc := NewService(Options{
		Store:      st,
		Factory:    &fakeBuilder{client: client, tools: tools},
		Usage:      usage.NewService(usage.Options{Store: st}),
		SingleShot: NewSingleShotPatchService(patches, ws, nil),
	})
	return &serviceFixture{svc: svc, store: st, session: session, root: root}
}

func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestHandleUserMessageTextOnlyTurn(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{{
		deltas: []string{"Hi", " there"},
		result: llm.TurnResult{FinishReason: "stop", Text: "Hi there"},
		usage:  &usage.Event{Provider: "openai", InputTokens: 100, OutputTokens: 20},
	}}}
	f := newServiceFixture(t, store.ModeCoding, client, nil)
	ctx := context.Background()

	turnID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(ch)

	if errs := eventsOfType(events, EventWorkflowError); len(errs) != 0 {
		t.Fatalf("unexpected workflow errors: %+v", errs)
	}
	if events[0].Type != EventAgentState || events[0].Status != "Thinking..." {
		t.Fatalf("first event = %+v", events[0])
	}

	starts := eventsOfType(events, EventAIMessageBlockStart)
	chunks := eventsOfType(events, EventAIMessageChunk)
	if len(starts) != 1 || len(chunks) != 2 {
		t.Fatalf("starts = %d, chunks = %d", len(starts), len(chunks))
	}
	for _, c := range chunks {
		if c.BlockID != starts[0].BlockID {
			t.Fatalf("chunk block id %q != start block id %q", c.BlockID, starts[0].BlockID)
		}
	}

	completed := eventsOfType(events, EventAIMessageCompleted)
	if len(completed) != 1 || completed[0].Message.Content() != "Hi there" {
		t.Fatalf("completed = %+v", completed)
	}

	metrics := eventsOfType(events, EventUsageMetricsUpdated)
	if len(metrics) == 0 || metrics[len(metrics)-1].Metrics.SessionCost <= 0 {
		t.Fatalf("usage metrics events = %+v", metrics)
	}

	turn, err := f.store.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Status != store.TurnSucceeded {
		t.Fatalf("turn status = %s", turn.Status)
	}

	msgs, err := f.store.MessagesForTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Content() != "Hi there" || len(msgs[1].ToolCalls()) != 0 {
		t.Fatalf("assistant message = %+v", msgs[1])
	}

	state, err := f.store.GetWorkflowState(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(state, "Hi there") {
		t.Fatalf("workflow state missing assistant text: %q", state)
	}

	su, err := f.store.GetSessionUsage(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if su.Cost <= 0 || su.InputTokens != 100 {
		t.Fatalf("session usage = %+v", su)
	}
}

func TestHandleUserMessageToolThenTextTurn(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{
		{
			deltas: []string{"Looking..."},
			result: llm.TurnResult{
				FinishReason: "tool_calls",
				Text:         "Looking...",
				ToolCalls:    []llm.ToolCall{{ID: "t1", Name: "grep", Args: map[string]any{"pattern": "foo"}}},
			},
		},
		{
			deltas: []string{"Found 3."},
			result: llm.TurnResult{FinishReason: "stop", Text: "Found 3."},
		},
	}}
	tools := []agent.Tool{{
		Def: llm.ToolDef{Name: "grep"},
		Run: func(ctx context.Context, args map[string]any) string { return "3 matches" },
	}}
	f := newServiceFixture(t, store.ModeCoding, client, tools)
	ctx := context.Background()

	turnID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "count foos", "")
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(ch)

	calls := eventsOfType(events, EventToolCall)
	results := eventsOfType(events, EventToolCallResult)
	if len(calls) != 1 || len(results) != 1 {
		t.Fatalf("calls = %d, results = %d", len(calls), len(results))
	}
	if calls[0].ToolRunID == "" || calls[0].ToolRunID != results[0].ToolRunID {
		t.Fatalf("run id mismatch: call %q result %q", calls[0].ToolRunID, results[0].ToolRunID)
	}
	if _, ok := calls[0].ToolKwargs[agent.RunIDKey]; ok {
		t.Fatal("run id leaked into emitted kwargs")
	}
	if results[0].ToolOutput != "3 matches" {
		t.Fatalf("tool output = %q", results[0].ToolOutput)
	}

	msgs, err := f.store.MessagesForTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	blocks := msgs[1].Blocks
	if len(blocks) != 3 {
		t.Fatalf("assistant blocks = %+v", blocks)
	}
	if blocks[0].Content != "Looking..." || blocks[2].Content != "Found 3." {
		t.Fatalf("text blocks = %q, %q", blocks[0].Content, blocks[2].Content)
	}
	tool := blocks[1]
	if tool.ToolName != "grep" || tool.ToolCallData == nil || tool.ToolCallData.Output == nil || *tool.ToolCallData.Output != "3 matches" {
		t.Fatalf("tool block = %+v", tool)
	}
}

func TestHandleUserMessageCancelLeavesTurnRetriable(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{
		{deltas: []string{"Hi"}, waitCancel: true},
		{deltas: []string{"done"}, result: llm.TurnResult{FinishReason: "stop", Text: "done"}},
	}}
	f := newServiceFixture(t, store.ModeCoding, client, nil)
	ctx := context.Background()

	turnID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	var events []Event
	cancelled := false
	for ev := range ch {
		events = append(events, ev)
		if !cancelled && ev.Type == EventAIMessageChunk {
			if msg, ok := f.svc.Cancel(turnID); !ok || msg != "hello" {
				t.Fatalf("cancel = (%q, %v)", msg, ok)
			}
			cancelled = true
		}
	}
	if !cancelled {
		t.Fatal("no chunk event observed before stream close")
	}

	if got := eventsOfType(events, EventAIMessageCompleted); len(got) != 0 {
		t.Fatalf("completed events after cancel: %+v", got)
	}
	if got := eventsOfType(events, EventWorkflowError); len(got) != 0 {
		t.Fatalf("cancel must not surface as error: %+v", got)
	}

	turn, err := f.store.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Status != store.TurnPending {
		t.Fatalf("turn status after cancel = %s", turn.Status)
	}

	retryID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "hello", turnID)
	if err != nil {
		t.Fatal(err)
	}
	if retryID != turnID {
		t.Fatalf("retry id = %q, want %q", retryID, turnID)
	}
	drainEvents(ch)

	turn, err = f.store.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Status != store.TurnSucceeded {
		t.Fatalf("turn status after retry = %s", turn.Status)
	}
}

func TestHandleUserMessageRetrySucceededTurn(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{
		{deltas: []string{"ok"}, result: llm.TurnResult{FinishReason: "stop", Text: "ok"}},
	}}
	f := newServiceFixture(t, store.ModeCoding, client, nil)
	ctx := context.Background()

	turnID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	drainEvents(ch)

	_, _, err = f.svc.HandleUserMessage(ctx, f.session.ID, "hello", turnID)
	if err == nil || !strings.Contains(err.Error(), "already succeeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleUserMessageWorkflowError(t *testing.T) {
	// No scripted turns, so the first model round fails.
	client := &scriptedClient{}
	f := newServiceFixture(t, store.ModeCoding, client, nil)
	ctx := context.Background()

	turnID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(ch)

	errs := eventsOfType(events, EventWorkflowError)
	if len(errs) != 1 {
		t.Fatalf("workflow errors = %+v", errs)
	}
	if !strings.HasPrefix(errs[0].ErrorMessage, "Workflow Error: ") || errs[0].OriginalMessage != "hello" {
		t.Fatalf("error event = %+v", errs[0])
	}

	turn, err := f.store.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Status == store.TurnSucceeded {
		t.Fatal("failed turn must not be marked succeeded")
	}
}

func TestHandleUserMessageSingleShotAppliesPatches(t *testing.T) {
	answer := "Here you go:\n```diff\n*** Begin Patch\n*** Add File: hello.txt\n+hello\n*** End Patch\n```\n"
	client := &scriptedClient{turns: []scriptedTurn{
		{deltas: []string{answer}, result: llm.TurnResult{FinishReason: "stop", Text: answer}},
	}}
	f := newServiceFixture(t, store.ModeSingleShot, client, nil)
	ctx := context.Background()

	settings, err := f.store.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	settings.DiffPatchProcessorType = store.ProcessorCodexApply
	if err := f.store.UpdateSettings(ctx, *settings); err != nil {
		t.Fatal(err)
	}

	turnID, ch, err := f.svc.HandleUserMessage(ctx, f.session.ID, "create hello.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	events := drainEvents(ch)

	if errs := eventsOfType(events, EventWorkflowError); len(errs) != 0 {
		t.Fatalf("unexpected workflow errors: %+v", errs)
	}

	applied := eventsOfType(events, EventSingleShotDiffApplied)
	if len(applied) != 1 || applied[0].FilePath != "hello.txt" {
		t.Fatalf("applied events = %+v", applied)
	}
	updated := eventsOfType(events, EventContextFilesUpdated)
	if len(updated) != 1 || len(updated[0].Files) != 1 || updated[0].Files[0].FilePath != "hello.txt" {
		t.Fatalf("context update events = %+v", updated)
	}

	stateEvents := eventsOfType(events, EventAgentState)
	var sawApplying bool
	for _, ev := range stateEvents {
		if ev.Status == "Applying patches..." {
			sawApplying = true
		}
	}
	if !sawApplying {
		t.Fatal("missing applying-patches state event")
	}

	content, err := os.ReadFile(filepath.Join(f.root, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("file content = %q", content)
	}

	rows, err := f.store.ListDiffPatches(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != store.PatchApplied || rows[0].TurnID != turnID {
		t.Fatalf("diff patches = %+v", rows)
	}

	turn, err := f.store.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Status != store.TurnSucceeded {
		t.Fatalf("turn status = %s", turn.Status)
	}
}
