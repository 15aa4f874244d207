package usage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/atelierhq/coderd/internal/store"
)

func TestConsumeReturnsOnlyNewEvents(t *testing.T) {
	ctx, collector := NewScope(context.Background())

	Record(ctx, Event{Provider: "OPENAI", InputTokens: 10})
	Record(ctx, Event{Provider: "OPENAI", OutputTokens: 5})

	first := collector.Consume()
	if len(first) != 2 {
		t.Fatalf("expected 2 events, got %d", len(first))
	}
	if second := collector.Consume(); len(second) != 0 {
		t.Fatalf("second consume should be empty, got %d", len(second))
	}

	Record(ctx, Event{Provider: "ANTHROPIC", InputTokens: 7})
	third := collector.Consume()
	if len(third) != 1 || third[0].Provider != "ANTHROPIC" {
		t.Fatalf("unexpected third batch %+v", third)
	}
}

func TestRecordWithoutScopeIsDropped(t *testing.T) {
	Record(context.Background(), Event{Provider: "OPENAI", InputTokens: 1})
	// nothing to assert beyond not panicking; no collector exists
	if c := FromContext(context.Background()); c != nil {
		t.Fatal("unexpected collector on bare context")
	}
}

func TestConcurrentScopesStayIsolated(t *testing.T) {
	base := context.Background()
	ctxA, colA := NewScope(base)
	ctxB, colB := NewScope(base)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Record(ctxA, Event{Provider: "OPENAI", InputTokens: 1})
		}()
		go func() {
			defer wg.Done()
			Record(ctxB, Event{Provider: "GOOGLE", InputTokens: 1})
		}()
	}
	wg.Wait()

	a := colA.Consume()
	b := colB.Consume()
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("expected 50 events each, got %d and %d", len(a), len(b))
	}
	for _, e := range a {
		if e.Provider != "OPENAI" {
			t.Fatalf("scope A leaked event %+v", e)
		}
	}
}

func TestUnprocessedCount(t *testing.T) {
	ctx, collector := NewScope(context.Background())
	Record(ctx, Event{Provider: "OPENAI"})
	if collector.Unprocessed() != 1 {
		t.Fatalf("unprocessed = %d", collector.Unprocessed())
	}
	collector.Consume()
	if collector.Unprocessed() != 0 {
		t.Fatalf("unprocessed after consume = %d", collector.Unprocessed())
	}
}

func TestProcessBatchAccumulates(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "coderd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	project, err := st.CreateProject(ctx, "demo", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	session, err := st.CreateSession(ctx, project.ID, "", store.ModeCoding)
	if err != nil {
		t.Fatal(err)
	}

	svc := NewService(Options{Store: st})
	events := []Event{
		{Provider: "OPENAI", InputTokens: 100, OutputTokens: 20},
		{Provider: "OPENAI", InputTokens: 50, OutputTokens: 10},
		{Provider: "ANTHROPIC", InputTokens: 30, OutputTokens: 5},
	}
	metrics, err := svc.ProcessBatch(ctx, session.ID, events)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if metrics.InputTokens != 180 || metrics.OutputTokens != 35 {
		t.Fatalf("unexpected token totals %+v", metrics)
	}
	if metrics.SessionCost <= 0 {
		t.Fatal("expected positive session cost")
	}
	if metrics.GlobalCost < metrics.SessionCost {
		t.Fatalf("global cost %f below session cost %f", metrics.GlobalCost, metrics.SessionCost)
	}

	// A second batch adds on top of the first.
	again, err := svc.ProcessBatch(ctx, session.ID, []Event{{Provider: "OPENAI", InputTokens: 20}})
	if err != nil {
		t.Fatal(err)
	}
	if again.InputTokens != 200 {
		t.Fatalf("expected 200 input tokens, got %d", again.InputTokens)
	}

	// Empty batch returns the unchanged snapshot.
	snap, err := svc.ProcessBatch(ctx, session.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if snap != again {
		t.Fatalf("empty batch changed metrics: %+v vs %+v", snap, again)
	}
}
