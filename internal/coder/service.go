package coder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/atelierhq/coderd/internal/agent"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/usage"
)

// WorkflowBuilder assembles the agent workflow for one turn. It is
// satisfied by agent.Factory.
type WorkflowBuilder interface {
	BuildAgent(ctx context.Context, sessionID int64, turnID string, settings store.Settings) (*agent.Workflow, error)
}

// CoderService orchestrates one conversational turn end to end: turn
// lifecycle, agent execution, event translation, usage accounting and
// persistence of the result.
type CoderService struct {
	store      *store.Store
	turns      *ChatTurnService
	factory    WorkflowBuilder
	usage      *usage.Service
	singleShot *SingleShotPatchService
	registry   *TurnExecutionRegistry

	// maxIterations overrides the workflow default when positive.
	maxIterations int
	log           *slog.Logger
}

type Options struct {
	Store         *store.Store
	Turns         *ChatTurnService
	Factory       WorkflowBuilder
	Usage         *usage.Service
	SingleShot    *SingleShotPatchService
	Registry      *TurnExecutionRegistry
	MaxIterations int
	Logger        *slog.Logger
}

func NewService(opts Options) *CoderService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewTurnExecutionRegistry(logger)
	}
	turns := opts.Turns
	if turns == nil {
		turns = NewChatTurnService(opts.Store)
	}
	return &CoderService{
		store:         opts.Store,
		turns:         turns,
		factory:       opts.Factory,
		usage:         opts.Usage,
		singleShot:    opts.SingleShot,
		registry:      registry,
		maxIterations: opts.MaxIterations,
		log:           logger.With("component", "coder"),
	}
}

func (s *CoderService) Registry() *TurnExecutionRegistry {
	return s.registry
}

// Cancel stops a running turn and returns its original user message so the
// client can restore the input. Unknown turns report ok=false.
func (s *CoderService) Cancel(turnID string) (string, bool) {
	return s.registry.Cancel(turnID)
}

// HandleUserMessage starts (or retries) a turn and returns its id together
// with the event stream. The stream is produced by a dedicated goroutine and
// closed when the turn finishes; the caller must drain it until close. A
// cancelled turn stays PENDING and may be retried with the same id.
func (s *CoderService) HandleUserMessage(ctx context.Context, sessionID int64, userMessage string, retryTurnID string) (string, <-chan Event, error) {
	turn, err := s.turns.StartTurn(ctx, sessionID, retryTurnID)
	if err != nil {
		return "", nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.registry.Register(turn.ID, sessionID, userMessage, cancel)

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer s.registry.Unregister(turn.ID)
		defer cancel()
		s.runTurn(runCtx, sessionID, turn.ID, userMessage, events)
	}()

	return turn.ID, events, nil
}

func (s *CoderService) runTurn(ctx context.Context, sessionID int64, turnID string, userMessage string, events chan<- Event) {
	emit := func(e Event) { events <- e }

	emit(AgentStateEvent("Thinking..."))

	ctx, collector := usage.NewScope(ctx)

	err := s.executeTurn(ctx, sessionID, turnID, userMessage, collector, emit)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.log.Info("turn cancelled", "turn_id", turnID, "session_id", sessionID)
		emit(WorkflowLogEvent(fmt.Sprintf("Workflow cancelled for turn %s.", turnID), LogInfo))
		emit(AgentStateEvent(""))
	default:
		s.log.Error("workflow execution failed", "turn_id", turnID, "session_id", sessionID, "error", err)
		emit(WorkflowErrorEvent(fmt.Sprintf("Workflow Error: %v", err), userMessage))
	}

	if n := collector.Unprocessed(); n > 0 {
		s.log.Warn("usage events were not processed", "session_id", sessionID, "count", n)
	}
}

func (s *CoderService) executeTurn(ctx context.Context, sessionID int64, turnID string, userMessage string, collector *usage.Collector, emit func(Event)) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	acc := NewMessageAccumulator(sessionID, turnID)
	handler := NewTurnEventHandler(acc, s.log)

	wf, err := s.factory.BuildAgent(ctx, sessionID, turnID, *settings)
	if err != nil {
		return err
	}
	if s.maxIterations > 0 {
		wf.MaxIterations = s.maxIterations
	}

	stateRaw, err := s.store.GetWorkflowState(ctx, sessionID)
	if err != nil {
		return err
	}
	state, err := agent.LoadState(stateRaw)
	if err != nil {
		return err
	}

	runErr := wf.Run(ctx, state, userMessage, func(raw agent.Event) {
		for _, ev := range handler.Handle(raw) {
			emit(ev)
		}
		s.drainUsage(ctx, sessionID, collector, emit)
	})
	if runErr != nil {
		return runErr
	}
	s.log.Info("workflow stream finished", "session_id", sessionID, "turn_id", turnID)

	stateJSON, err := state.Serialize()
	if err != nil {
		return err
	}
	userMsg := store.Message{
		SessionID: sessionID,
		TurnID:    turnID,
		Role:      store.RoleUser,
		Blocks:    []store.Block{store.TextBlock(uuid.NewString(), userMessage)},
	}
	aiMsg := acc.Message()
	if err := s.store.SaveTurnResult(ctx, userMsg, aiMsg, stateJSON); err != nil {
		return err
	}
	if err := s.store.RenameSessionIfUnnamed(ctx, sessionID, userMessage); err != nil {
		s.log.Warn("session rename failed", "session_id", sessionID, "error", err)
	}
	if aiMsg != nil {
		emit(MessageCompletedEvent(aiMsg))
	}

	s.drainUsage(ctx, sessionID, collector, emit)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OperationalMode == store.ModeSingleShot {
		emit(AgentStateEvent("Applying patches..."))
		if err := s.singleShot.ApplyFromBlocks(ctx, sessionID, turnID, acc.Blocks(), settings.DiffPatchProcessorType, emit); err != nil {
			return err
		}
		emit(AgentStateEvent(""))
	}

	return s.turns.MarkSucceeded(ctx, turnID)
}

// drainUsage consumes the events recorded since the previous drain and
// publishes the updated metrics snapshot.
func (s *CoderService) drainUsage(ctx context.Context, sessionID int64, collector *usage.Collector, emit func(Event)) {
	batch := collector.Consume()
	if len(batch) == 0 {
		return
	}
	metrics, err := s.usage.ProcessBatch(ctx, sessionID, batch)
	if err != nil {
		emit(WorkflowLogEvent(fmt.Sprintf("Usage Tracking Error: %v", err), LogError))
		return
	}
	emit(UsageMetricsEvent(metrics))
}
