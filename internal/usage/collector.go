// Package usage captures per-turn provider usage events through a
// context-scoped collector and folds them into the persistent accumulators.
package usage

import (
	"context"
	"sync"
)

// Event is one provider usage sample emitted after a model call completes.
type Event struct {
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CachedTokens int64  `json:"cached_tokens"`
}

type collectorKey struct{}

// Collector gathers the events recorded under one turn's scope. It is safe
// for concurrent use; each turn owns its own collector, so concurrent turns
// never share state.
type Collector struct {
	mu     sync.Mutex
	events []Event
	cursor int
}

// NewScope binds a fresh collector to the returned context. Record calls
// made with that context land in the collector; calls made outside any
// scope are dropped.
func NewScope(ctx context.Context) (context.Context, *Collector) {
	c := &Collector{}
	return context.WithValue(ctx, collectorKey{}, c), c
}

// FromContext returns the bound collector, or nil when no scope is active.
func FromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}

// Record appends an event to the collector bound to ctx, if any.
func Record(ctx context.Context, event Event) {
	c := FromContext(ctx)
	if c == nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

// Consume returns the events recorded since the previous Consume call and
// advances the cursor. With no new events it returns nil.
func (c *Collector) Consume() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor >= len(c.events) {
		return nil
	}
	batch := make([]Event, len(c.events)-c.cursor)
	copy(batch, c.events[c.cursor:])
	c.cursor = len(c.events)
	return batch
}

// Unprocessed reports how many recorded events Consume has not yet returned.
func (c *Collector) Unprocessed() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events) - c.cursor
}
