package llm

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey means the provider of the selected model has no stored
// key, so no client can be constructed.
var ErrMissingAPIKey = errors.New("missing provider api key")

// ErrUnknownModel means the requested model is absent from the embedded
// registry.
var ErrUnknownModel = errors.New("unknown model")

// ContextWindowExceededError reports a requested context window above the
// registry-defined maximum for the model.
type ContextWindowExceededError struct {
	Model     string
	Requested int64
	Max       int64
}

func (e *ContextWindowExceededError) Error() string {
	return fmt.Sprintf("context window %d exceeds maximum %d for model %s", e.Requested, e.Max, e.Model)
}

// InvalidReasoningConfigError reports a reasoning_config that fails the
// provider-specific schema.
type InvalidReasoningConfigError struct {
	Provider string
	Reason   string
}

func (e *InvalidReasoningConfigError) Error() string {
	return fmt.Sprintf("Invalid reasoning_config for provider=%s: %s", e.Provider, e.Reason)
}
