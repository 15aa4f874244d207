package coder

import (
	"github.com/google/uuid"

	"github.com/atelierhq/coderd/internal/store"
)

// MessageAccumulator rebuilds the assistant message of one turn from the
// streamed deltas and tool events. The block list order is the authoritative
// reconstruction of the output; a tool call always closes the current text
// block so interleaved text opens a new one.
type MessageAccumulator struct {
	sessionID int64
	turnID    string

	blocks             []store.Block
	currentTextBlockID string
}

func NewMessageAccumulator(sessionID int64, turnID string) *MessageAccumulator {
	return &MessageAccumulator{sessionID: sessionID, turnID: turnID}
}

// AppendText adds a delta to the current text block, opening a fresh one
// when none is active. It reports the block id and whether a new block
// started with this delta.
func (a *MessageAccumulator) AppendText(delta string) (string, bool) {
	if a.currentTextBlockID == "" {
		a.currentTextBlockID = uuid.NewString()
		a.blocks = append(a.blocks, store.TextBlock(a.currentTextBlockID, delta))
		return a.currentTextBlockID, true
	}
	a.blocks[len(a.blocks)-1].Content += delta
	return a.currentTextBlockID, false
}

// AddToolCall records a tool invocation with no output yet and closes the
// current text block.
func (a *MessageAccumulator) AddToolCall(runID string, toolID string, name string, kwargs map[string]any) {
	a.currentTextBlockID = ""
	a.blocks = append(a.blocks, store.ToolBlock(runID, toolID, name, kwargs))
}

// AddToolResult attaches the output to the most recent tool block with the
// given run id. It reports whether a matching block was found.
func (a *MessageAccumulator) AddToolResult(runID string, output string) bool {
	for i := len(a.blocks) - 1; i >= 0; i-- {
		b := &a.blocks[i]
		if b.Type == store.BlockTypeTool && b.ToolRunID == runID && b.ToolCallData != nil {
			out := output
			b.ToolCallData.Output = &out
			return true
		}
	}
	return false
}

func (a *MessageAccumulator) Blocks() []store.Block {
	return a.blocks
}

// Message materializes the accumulated blocks as an assistant message, or
// nil when nothing was produced.
func (a *MessageAccumulator) Message() *store.Message {
	if len(a.blocks) == 0 {
		return nil
	}
	return &store.Message{
		SessionID: a.sessionID,
		TurnID:    a.turnID,
		Role:      store.RoleAssistant,
		Blocks:    a.blocks,
	}
}
