package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/workspace"
)

type contextFixture struct {
	service *ContextService
	store   *store.Store
	ws      *workspace.Service
	root    string
	session *store.ChatSession
}

func newContextFixture(t *testing.T, withProject bool) *contextFixture {
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
	files := map[string]string{
		"main.go":     "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"lib/util.go": "package lib\n\nfunc Util() int {\n\treturn 1\n}\n",
	}
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cb := codebase.NewService(codebase.Options{})
	ws := workspace.NewService(workspace.Options{Store: st, Codebase: cb})

	f := &contextFixture{
		service: NewContextService(ContextOptions{Store: st, Codebase: cb, Workspace: ws}),
		store:   st,
		ws:      ws,
		root:    root,
	}
	if !withProject {
		return f
	}

	project, err := st.CreateProject(ctx, "demo", root)
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
	f.session = session
	return f
}

func TestBuildSystemPromptRequiresActiveProject(t *testing.T) {
	f := newContextFixture(t, false)

	_, err := f.service.BuildSystemPrompt(context.Background(), 1, store.ModeCoding)
	if !errors.Is(err, store.ErrActiveProjectRequired) {
		t.Fatalf("expected ErrActiveProjectRequired, got %v", err)
	}
}

func TestBuildSystemPromptChatMode(t *testing.T) {
	f := newContextFixture(t, true)

	prompt, err := f.service.BuildSystemPrompt(context.Background(), f.session.ID, store.ModeChat)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"<IDENTITY>", "<PROMPT_STRUCTURE>"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("chat prompt missing %s", want)
		}
	}
	for _, forbidden := range []string{"<RULES>", "<GUIDELINES>", "<ACTIVE_CONTEXT>", "<REPOSITORY_MAP>", "<CUSTOM_INSTRUCTIONS>"} {
		if strings.Contains(prompt, forbidden) {
			t.Errorf("chat prompt must not contain %s", forbidden)
		}
	}
}

func TestBuildSystemPromptCodingModeSections(t *testing.T) {
	f := newContextFixture(t, true)
	ctx := context.Background()

	if _, err := f.ws.AddFile(ctx, f.session.ID, "main.go"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddPromptAttachment(ctx, f.session.ID, "style", "Prefer table-driven tests."); err != nil {
		t.Fatal(err)
	}

	prompt, err := f.service.BuildSystemPrompt(ctx, f.session.ID, store.ModeCoding)
	if err != nil {
		t.Fatal(err)
	}

	// Stable section order.
	order := []string{
		"<IDENTITY>", "<PROMPT_STRUCTURE>", "<RULES>", "<GUIDELINES>",
		"<CUSTOM_INSTRUCTIONS>", "<ACTIVE_CONTEXT>", "<REPOSITORY_MAP>",
	}
	last := -1
	for _, section := range order {
		idx := strings.Index(prompt, section)
		if idx < 0 {
			t.Fatalf("prompt missing section %s", section)
		}
		if idx < last {
			t.Errorf("section %s out of order", section)
		}
		last = idx
	}

	if !strings.Contains(prompt, `<INSTRUCTION name="style">`) {
		t.Error("custom instruction block missing")
	}
	if !strings.Contains(prompt, `<FILE path="main.go">`) {
		t.Error("active context file missing")
	}
	if !strings.Contains(prompt, "func main()") {
		t.Error("active context content missing")
	}
	if !strings.Contains(prompt, "lib/util.go") {
		t.Error("repo map should list project files")
	}
}

func TestBuildSystemPromptSingleShotHasNoRules(t *testing.T) {
	f := newContextFixture(t, true)

	prompt, err := f.service.BuildSystemPrompt(context.Background(), f.session.ID, store.ModeSingleShot)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(prompt, "<RULES>") {
		t.Error("single-shot prompt must not carry tool rules")
	}
	if !strings.Contains(prompt, "Unified Diff format") {
		t.Error("single-shot identity should describe the diff output format")
	}
	if !strings.Contains(prompt, "<GUIDELINES>") {
		t.Error("single-shot prompt keeps coder guidelines")
	}
}

func TestBuildSystemPromptSkipsUnreadableContextFiles(t *testing.T) {
	f := newContextFixture(t, true)
	ctx := context.Background()

	if _, err := f.ws.AddFile(ctx, f.session.ID, "main.go"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.root, "main.go")); err != nil {
		t.Fatal(err)
	}

	prompt, err := f.service.BuildSystemPrompt(ctx, f.session.ID, store.ModeCoding)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(prompt, `<FILE path="main.go">`) {
		t.Error("unreadable file must not be rendered in active context")
	}
}

func TestRepoMapManualMode(t *testing.T) {
	f := newContextFixture(t, true)
	ctx := context.Background()

	settings, err := f.store.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	settings.RepoMapMode = store.RepoMapManual
	if err := f.store.UpdateSettings(ctx, *settings); err != nil {
		t.Fatal(err)
	}

	repoMap, err := f.service.RepoMap(ctx, f.session.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(repoMap, "main.go") {
		t.Errorf("manual map missing top-level file: %q", repoMap)
	}
	if strings.Contains(repoMap, "util.go") {
		t.Errorf("manual map must stay at the top level: %q", repoMap)
	}
}

func TestRepoMapHonorsIgnorePatterns(t *testing.T) {
	f := newContextFixture(t, true)
	ctx := context.Background()

	settings, err := f.store.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	settings.RepoMapIgnorePatterns = "lib/**\n"
	if err := f.store.UpdateSettings(ctx, *settings); err != nil {
		t.Fatal(err)
	}

	repoMap, err := f.service.RepoMap(ctx, f.session.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(repoMap, "util.go") {
		t.Errorf("ignored file leaked into the map: %q", repoMap)
	}
	if !strings.Contains(repoMap, "main.go") {
		t.Errorf("non-ignored file missing from map: %q", repoMap)
	}
}
