package coder

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atelierhq/coderd/internal/store"
)

func newTurnFixture(t *testing.T) (*ChatTurnService, *store.ChatSession) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "coderd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	project, err := st.CreateProject(ctx, "demo", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	session, err := st.CreateSession(ctx, project.ID, "", store.ModeCoding)
	if err != nil {
		t.Fatal(err)
	}
	return NewChatTurnService(st), session
}

func TestStartTurnCreatesPending(t *testing.T) {
	svc, session := newTurnFixture(t)
	ctx := context.Background()

	turn, err := svc.StartTurn(ctx, session.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if turn.ID == "" || turn.Status != store.TurnPending || turn.SessionID != session.ID {
		t.Fatalf("turn = %+v", turn)
	}
}

func TestStartTurnRetryReusesPendingID(t *testing.T) {
	svc, session := newTurnFixture(t)
	ctx := context.Background()

	first, err := svc.StartTurn(ctx, session.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	retried, err := svc.StartTurn(ctx, session.ID, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.ID != first.ID {
		t.Fatalf("retry id = %q, want %q", retried.ID, first.ID)
	}
}

func TestStartTurnRetryUnknownTurn(t *testing.T) {
	svc, session := newTurnFixture(t)

	_, err := svc.StartTurn(context.Background(), session.ID, "missing-turn")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("err = %v", err)
	}
}

func TestStartTurnRetrySucceededTurn(t *testing.T) {
	svc, session := newTurnFixture(t)
	ctx := context.Background()

	turn, err := svc.StartTurn(ctx, session.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkSucceeded(ctx, turn.ID); err != nil {
		t.Fatal(err)
	}

	_, err = svc.StartTurn(ctx, session.ID, turn.ID)
	if err == nil || !strings.Contains(err.Error(), "already succeeded and cannot be retried") {
		t.Fatalf("err = %v", err)
	}
}

func TestStartTurnRetryWrongSession(t *testing.T) {
	svc, session := newTurnFixture(t)
	ctx := context.Background()

	turn, err := svc.StartTurn(ctx, session.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.StartTurn(ctx, session.ID+1, turn.ID)
	if err == nil || !strings.Contains(err.Error(), "does not belong") {
		t.Fatalf("err = %v", err)
	}
}
