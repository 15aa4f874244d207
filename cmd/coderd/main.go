package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/atelierhq/coderd/internal/agent"
	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/coder"
	"github.com/atelierhq/coderd/internal/config"
	"github.com/atelierhq/coderd/internal/llm"
	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/usage"
	"github.com/atelierhq/coderd/internal/workspace"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "prompt":
		promptCmd(os.Args[2:])
	case "models":
		modelsCmd(os.Args[2:])
	case "version":
		fmt.Printf("coderd %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `coderd

Usage:
  coderd prompt [flags] <message>
  coderd models [flags]
  coderd version

Commands:
  prompt    Run one conversational turn against the active project and stream events as NDJSON.
  models    List configured models and their roles.
  version   Print build information.

`)
}

type app struct {
	cfg   *config.Config
	store *store.Store
	llms  *llm.Service
	coder *coder.CoderService
	log   *slog.Logger
}

func initApp(cfgPath string) (*app, error) {
	cfgPath = filepath.Clean(cfgPath)
	cfg, err := config.LoadOrInit(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.ResolvedDBPath(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ctx := context.Background()
	if err := st.EnsureSettings(ctx); err != nil {
		return nil, err
	}

	llms := llm.NewService(llm.Options{Store: st, Logger: logger})
	if err := llms.SeedModels(ctx); err != nil {
		return nil, err
	}
	if err := seedAPIKeys(ctx, cfg, st, llms); err != nil {
		return nil, err
	}

	cb := codebase.NewService(codebase.Options{Logger: logger})
	ws := workspace.NewService(workspace.Options{Store: st, Codebase: cb, Logger: logger})

	udiff := patch.NewUDiffProcessor(st, cb, func(ctx context.Context) (patch.Completer, error) {
		return llms.PatchCompleter(ctx)
	}, logger)
	patches := patch.NewDiffPatchService(st, udiff, patch.NewCodexProcessor(st), logger)

	contextSvc := agent.NewContextService(agent.ContextOptions{
		Store:     st,
		Codebase:  cb,
		Workspace: ws,
		Logger:    logger,
	})
	factory := agent.NewFactory(agent.FactoryOptions{
		Store:    st,
		LLMs:     llms,
		Context:  contextSvc,
		Codebase: cb,
		Worksp:   ws,
		Patches:  patches,
		Logger:   logger,
	})

	coderSvc := coder.NewService(coder.Options{
		Store:         st,
		Factory:       factory,
		Usage:         usage.NewService(usage.Options{Store: st, Logger: logger}),
		SingleShot:    coder.NewSingleShotPatchService(patches, ws, logger),
		MaxIterations: cfg.AgentMaxIterations,
		Logger:        logger,
	})

	return &app{cfg: cfg, store: st, llms: llms, coder: coderSvc, log: logger}, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.TrimSpace(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	// Logs go to stderr; stdout carries the NDJSON event stream.
	if strings.TrimSpace(cfg.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// seedAPIKeys pushes config-file keys into the store for providers that have
// no stored key yet. Stored keys always win.
func seedAPIKeys(ctx context.Context, cfg *config.Config, st *store.Store, llms *llm.Service) error {
	rows, err := st.ListLLMSettings(ctx)
	if err != nil {
		return err
	}
	hasKey := map[string]bool{}
	for _, row := range rows {
		if row.HasAPIKey {
			hasKey[row.Provider] = true
		}
	}
	for provider := range cfg.APIKeys {
		if hasKey[provider] {
			continue
		}
		if key := cfg.APIKey(provider); key != "" {
			if err := llms.SetProviderAPIKey(ctx, provider, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func promptCmd(args []string) {
	fs := flag.NewFlagSet("prompt", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	projectPath := fs.String("project", "", "Project directory to activate (default: current active project)")
	sessionID := fs.Int64("session", 0, "Chat session id to continue (default: new session)")
	mode := fs.String("mode", "CODING", "Operational mode for a new session: CODING|ASK|PLANNER|CHAT|SINGLE_SHOT")
	retryTurn := fs.String("retry", "", "Turn id to retry")
	_ = fs.Parse(args)

	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		fmt.Fprintln(os.Stderr, "prompt requires a message")
		fs.Usage()
		os.Exit(2)
	}

	a, err := initApp(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := a.resolveSession(ctx, *projectPath, *sessionID, *mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session setup failed: %v\n", err)
		os.Exit(1)
	}

	turnID, events, err := a.coder.HandleUserMessage(ctx, session.ID, message, *retryTurn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "turn start failed: %v\n", err)
		os.Exit(1)
	}
	a.log.Info("turn started", "turn_id", turnID, "session_id", session.ID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		a.coder.Cancel(turnID)
	}()

	enc := json.NewEncoder(os.Stdout)
	failed := false
	for ev := range events {
		if ev.Type == coder.EventWorkflowError {
			failed = true
		}
		if err := enc.Encode(ev); err != nil {
			fmt.Fprintf(os.Stderr, "encode event: %v\n", err)
			os.Exit(1)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func (a *app) resolveSession(ctx context.Context, projectPath string, sessionID int64, mode string) (*store.ChatSession, error) {
	if projectPath != "" {
		abs, err := filepath.Abs(projectPath)
		if err != nil {
			return nil, err
		}
		project, err := a.ensureProject(ctx, abs)
		if err != nil {
			return nil, err
		}
		if err := a.store.SetActiveProject(ctx, project.ID); err != nil {
			return nil, err
		}
	}

	if sessionID > 0 {
		return a.store.GetSession(ctx, sessionID)
	}

	project, err := a.store.ActiveProject(ctx)
	if err != nil {
		return nil, err
	}
	return a.store.CreateSession(ctx, project.ID, "", store.NormalizeOperationalMode(mode))
}

func (a *app) ensureProject(ctx context.Context, path string) (*store.Project, error) {
	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Path == path {
			return &p, nil
		}
	}
	return a.store.CreateProject(ctx, filepath.Base(path), path)
}

func modelsCmd(args []string) {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	a, err := initApp(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.store.Close()

	rows, err := a.llms.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "list models: %v\n", err)
		os.Exit(1)
	}
	for _, row := range store.MaskedLLMSettings(rows) {
		role := row.ActiveRole
		if role == "" {
			role = "-"
		}
		key := "no key"
		if row.HasAPIKey {
			key = "key set"
		}
		fmt.Printf("%-40s %-10s %-8s ctx=%-8d %s\n", row.ModelName, row.Provider, role, row.ContextWindow, key)
	}
}
