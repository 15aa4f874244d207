package llm

import (
	"context"

	"github.com/atelierhq/coderd/internal/usage"
)

// instrumentedClient records a provider usage sample after every completed
// call, into whichever collector scope is bound to the call context. Calls
// made outside a turn scope are simply not sampled.
type instrumentedClient struct {
	inner    Client
	provider string
	model    string
}

func instrument(inner Client, provider string, model string) Client {
	return &instrumentedClient{inner: inner, provider: provider, model: model}
}

func (c *instrumentedClient) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	result, err := c.inner.StreamTurn(ctx, req, onEvent)
	if err != nil {
		return result, err
	}
	usage.Record(ctx, usage.Event{
		Provider:     c.provider,
		Model:        c.model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		CachedTokens: result.Usage.CachedTokens,
	})
	return result, nil
}

// Complete routes through the instrumented StreamTurn so secondary calls
// such as diff reconstruction are sampled too.
func (c *instrumentedClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return completeViaStream(ctx, c, system, userMessages)
}
