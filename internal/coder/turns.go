package coder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atelierhq/coderd/internal/store"
)

// ChatTurnService owns the turn lifecycle. A turn id stays stable across
// retries; only reaching SUCCEEDED closes it.
type ChatTurnService struct {
	store *store.Store
}

func NewChatTurnService(st *store.Store) *ChatTurnService {
	return &ChatTurnService{store: st}
}

// StartTurn creates a fresh PENDING turn when retryTurnID is empty, or
// validates and reuses the retry target otherwise.
func (s *ChatTurnService) StartTurn(ctx context.Context, sessionID int64, retryTurnID string) (*store.ChatTurn, error) {
	if retryTurnID == "" {
		return s.store.CreateTurn(ctx, uuid.NewString(), sessionID)
	}

	turn, err := s.store.GetTurn(ctx, retryTurnID)
	if errors.Is(err, store.ErrTurnNotFound) {
		return nil, fmt.Errorf("retry requested for turn %s, but it does not exist", retryTurnID)
	}
	if err != nil {
		return nil, err
	}
	if turn.SessionID != sessionID {
		return nil, fmt.Errorf("turn %s does not belong to session %d", retryTurnID, sessionID)
	}
	if turn.Status == store.TurnSucceeded {
		return nil, fmt.Errorf("turn %s already succeeded and cannot be retried", retryTurnID)
	}
	return turn, nil
}

func (s *ChatTurnService) MarkSucceeded(ctx context.Context, turnID string) error {
	return s.store.MarkTurnSucceeded(ctx, turnID)
}
