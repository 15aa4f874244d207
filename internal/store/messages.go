package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	BlockTypeText = "text"
	BlockTypeTool = "tool"
)

// ToolCallData is the persisted payload of a tool block. Output stays nil
// until the matching tool result arrives.
type ToolCallData struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Kwargs map[string]any `json:"kwargs"`
	RunID  string         `json:"run_id"`
	Output *string        `json:"output"`
}

// Block is one ordered element of a message. The block list is the
// authoritative reconstruction of the assistant's output; Content and
// ToolCalls on Message are derived views and are never persisted.
type Block struct {
	Type         string        `json:"type"`
	BlockID      string        `json:"block_id,omitempty"`
	Content      string        `json:"content,omitempty"`
	ToolRunID    string        `json:"tool_run_id,omitempty"`
	ToolName     string        `json:"tool_name,omitempty"`
	ToolCallData *ToolCallData `json:"tool_call_data,omitempty"`
}

func TextBlock(blockID string, content string) Block {
	return Block{Type: BlockTypeText, BlockID: blockID, Content: content}
}

func ToolBlock(runID string, toolID string, name string, kwargs map[string]any) Block {
	return Block{
		Type:      BlockTypeTool,
		ToolRunID: runID,
		ToolName:  name,
		ToolCallData: &ToolCallData{
			ID:     toolID,
			Name:   name,
			Kwargs: kwargs,
			RunID:  runID,
		},
	}
}

type Message struct {
	ID              int64   `json:"id"`
	SessionID       int64   `json:"session_id"`
	TurnID          string  `json:"turn_id"`
	Role            Role    `json:"role"`
	Blocks          []Block `json:"blocks"`
	CreatedAtUnixMs int64   `json:"created_at_unix_ms"`
}

// Content concatenates the content of all text blocks in order.
func (m *Message) Content() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == BlockTypeText {
			b.WriteString(blk.Content)
		}
	}
	return b.String()
}

// ToolCalls returns the tool blocks in order.
func (m *Message) ToolCalls() []Block {
	if m == nil {
		return nil
	}
	var out []Block
	for _, blk := range m.Blocks {
		if blk.Type == BlockTypeTool {
			out = append(out, blk)
		}
	}
	return out
}

func (s *Store) SaveMessage(ctx context.Context, m Message) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.TurnID = strings.TrimSpace(m.TurnID)
	if m.SessionID <= 0 || m.TurnID == "" {
		return 0, errors.New("message requires session_id and turn_id")
	}
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return 0, fmt.Errorf("invalid role %q", m.Role)
	}

	if m.CreatedAtUnixMs <= 0 {
		m.CreatedAtUnixMs = time.Now().UnixMilli()
	}
	blocks := m.Blocks
	if blocks == nil {
		blocks = []Block{}
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages(session_id, turn_id, role, blocks_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
`, m.SessionID, m.TurnID, string(m.Role), string(raw), m.CreatedAtUnixMs)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// SaveTurnResult persists the user message, the optional assistant message
// and the workflow state snapshot in a single transaction so a turn's output
// is stored atomically.
func (s *Store) SaveTurnResult(ctx context.Context, user Message, assistant *Message, workflowStateJSON string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	user.TurnID = strings.TrimSpace(user.TurnID)
	if user.SessionID <= 0 || user.TurnID == "" {
		return errors.New("message requires session_id and turn_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	insert := func(m Message) error {
		if m.CreatedAtUnixMs <= 0 {
			m.CreatedAtUnixMs = now
		}
		blocks := m.Blocks
		if blocks == nil {
			blocks = []Block{}
		}
		raw, err := json.Marshal(blocks)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO messages(session_id, turn_id, role, blocks_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
`, m.SessionID, m.TurnID, string(m.Role), string(raw), m.CreatedAtUnixMs)
		return err
	}

	user.Role = RoleUser
	if err := insert(user); err != nil {
		return err
	}
	if assistant != nil {
		a := *assistant
		a.Role = RoleAssistant
		a.SessionID = user.SessionID
		a.TurnID = user.TurnID
		if err := insert(a); err != nil {
			return err
		}
	}

	state := strings.TrimSpace(workflowStateJSON)
	if state != "" {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO workflow_states(session_id, state_json, updated_at_unix_ms)
VALUES(?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET state_json = excluded.state_json, updated_at_unix_ms = excluded.updated_at_unix_ms
`, user.SessionID, state, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns all messages of a session in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, turn_id, role, blocks_json, created_at_unix_ms
FROM messages
WHERE session_id = ?
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecentMessages returns the latest limit messages in ascending order.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, turn_id, role, blocks_json, created_at_unix_ms
FROM messages
WHERE session_id = ?
ORDER BY id DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tmp, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to ASC order.
	out := make([]Message, 0, len(tmp))
	for i := len(tmp) - 1; i >= 0; i-- {
		out = append(out, tmp[i])
	}
	return out, nil
}

// MessagesForTurn returns the messages recorded for one turn in insertion
// order.
func (s *Store) MessagesForTurn(ctx context.Context, turnID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return nil, errors.New("missing turn id")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, turn_id, role, blocks_json, created_at_unix_ms
FROM messages
WHERE turn_id = ?
ORDER BY id ASC
`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var role, blocksJSON string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.TurnID, &role, &blocksJSON, &m.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if err := json.Unmarshal([]byte(blocksJSON), &m.Blocks); err != nil {
			return nil, fmt.Errorf("decode blocks for message %d: %w", m.ID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
