package coder

import (
	"context"
	"log/slog"
	"sync"
)

// TurnExecution is one registered in-flight turn. UserMessage is retained so
// a cancel can hand the original prompt back to the client for restore.
type TurnExecution struct {
	TurnID      string
	SessionID   int64
	UserMessage string
	cancel      context.CancelFunc
}

// TurnExecutionRegistry tracks running turns by turn id so they can be
// cancelled from outside the stream.
type TurnExecutionRegistry struct {
	mu   sync.Mutex
	runs map[string]*TurnExecution
	log  *slog.Logger
}

func NewTurnExecutionRegistry(logger *slog.Logger) *TurnExecutionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnExecutionRegistry{
		runs: make(map[string]*TurnExecution),
		log:  logger.With("component", "turn_registry"),
	}
}

func (r *TurnExecutionRegistry) Register(turnID string, sessionID int64, userMessage string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.runs[turnID] = &TurnExecution{
		TurnID:      turnID,
		SessionID:   sessionID,
		UserMessage: userMessage,
		cancel:      cancel,
	}
	r.mu.Unlock()
	r.log.Debug("registered active run", "turn_id", turnID)
}

// Cancel stops the run and returns its original user message. Cancelling an
// unknown or finished turn is a no-op returning ok=false. The cancel func
// runs outside the lock.
func (r *TurnExecutionRegistry) Cancel(turnID string) (string, bool) {
	r.mu.Lock()
	run := r.runs[turnID]
	r.mu.Unlock()

	if run == nil {
		r.log.Warn("attempted to cancel unknown or finished run", "turn_id", turnID)
		return "", false
	}
	run.cancel()
	return run.UserMessage, true
}

func (r *TurnExecutionRegistry) Unregister(turnID string) {
	r.mu.Lock()
	if _, ok := r.runs[turnID]; ok {
		delete(r.runs, turnID)
		r.log.Debug("unregistered run", "turn_id", turnID)
	}
	r.mu.Unlock()
}

// Active reports the number of registered runs.
func (r *TurnExecutionRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
