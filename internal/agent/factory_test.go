package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/llm"
	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/workspace"
)

func newFactoryFixture(t *testing.T) (*Factory, *store.Store, *store.ChatSession) {
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

	project, err := st.CreateProject(ctx, "demo", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetActiveProject(ctx, project.ID); err != nil {
		t.Fatal(err)
	}
	session, err := st.CreateSession(ctx, project.ID, "", store.ModeCoding)
	if err != nil {
		t.Fatal(err)
	}

	llms := llm.NewService(llm.Options{Store: st})
	if err := llms.SeedModels(ctx); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateProviderAPIKey(ctx, llm.ProviderOpenAI, "sk-test"); err != nil {
		t.Fatal(err)
	}

	cb := codebase.NewService(codebase.Options{})
	ws := workspace.NewService(workspace.Options{Store: st, Codebase: cb})
	patches := patch.NewDiffPatchService(st, nil, patch.NewCodexProcessor(st), nil)
	factory := NewFactory(FactoryOptions{
		Store:    st,
		LLMs:     llms,
		Context:  NewContextService(ContextOptions{Store: st, Codebase: cb, Workspace: ws}),
		Codebase: cb,
		Worksp:   ws,
		Patches:  patches,
	})
	return factory, st, session
}

func TestBuildAgentWiresHistoryCaps(t *testing.T) {
	factory, st, session := newFactoryFixture(t)
	ctx := context.Background()

	settings, err := st.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wf, err := factory.BuildAgent(ctx, session.ID, "turn-1", *settings)
	if err != nil {
		t.Fatalf("BuildAgent: %v", err)
	}

	if wf.MaxHistory != int(settings.MaxHistoryLength) {
		t.Fatalf("MaxHistory = %d, want %d", wf.MaxHistory, settings.MaxHistoryLength)
	}
	coder, err := st.GetLLMSettings(ctx, llm.DefaultCoderModel)
	if err != nil {
		t.Fatal(err)
	}
	want := historyTokenBudget(coder.ContextWindow)
	if want <= 0 {
		t.Fatalf("coder context window not seeded: %d", coder.ContextWindow)
	}
	if wf.MaxHistoryTokens != want {
		t.Fatalf("MaxHistoryTokens = %d, want %d", wf.MaxHistoryTokens, want)
	}
}

func TestHistoryTokenBudget(t *testing.T) {
	if got := historyTokenBudget(0); got != 0 {
		t.Fatalf("zero window budget = %d", got)
	}
	if got := historyTokenBudget(200000); got != 150000 {
		t.Fatalf("budget = %d, want 150000", got)
	}
}
