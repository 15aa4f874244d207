package llm

import (
	"context"
	"testing"

	"github.com/atelierhq/coderd/internal/usage"
)

// usageClient returns a fixed result so the recorded sample can be checked
// against the provider-reported counts.
type usageClient struct {
	result TurnResult
}

func (c *usageClient) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	return c.result, nil
}

func (c *usageClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return c.result.Text, nil
}

func TestInstrumentedClientRecordsCachedTokens(t *testing.T) {
	inner := &usageClient{result: TurnResult{
		FinishReason: "stop",
		Text:         "done",
		Usage:        TurnUsage{InputTokens: 120, OutputTokens: 40, CachedTokens: 80},
	}}
	client := instrument(inner, "ANTHROPIC", "claude-sonnet-4-5")

	ctx, collector := usage.NewScope(context.Background())
	if _, err := client.StreamTurn(ctx, TurnRequest{Messages: []Message{TextMessage("user", "hi")}}, nil); err != nil {
		t.Fatal(err)
	}

	events := collector.Consume()
	if len(events) != 1 {
		t.Fatalf("got %d usage events, want 1", len(events))
	}
	ev := events[0]
	if ev.Provider != "ANTHROPIC" || ev.Model != "claude-sonnet-4-5" {
		t.Fatalf("unexpected identity: %+v", ev)
	}
	if ev.InputTokens != 120 || ev.OutputTokens != 40 || ev.CachedTokens != 80 {
		t.Fatalf("unexpected counts: %+v", ev)
	}
}

func TestInstrumentedClientSkipsOutsideScope(t *testing.T) {
	inner := &usageClient{result: TurnResult{FinishReason: "stop", Usage: TurnUsage{InputTokens: 10}}}
	client := instrument(inner, "OPENAI", "gpt-4.1-mini")

	if _, err := client.StreamTurn(context.Background(), TurnRequest{}, nil); err != nil {
		t.Fatal(err)
	}
}
