package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atelierhq/coderd/internal/store"
)

// Service resolves configured models into provider clients. Clients are
// immutable once built and shared through the LRU cache keyed on the full
// client configuration.
type Service struct {
	store *store.Store
	cache *clientCache
	log   *slog.Logger
}

type Options struct {
	Store  *store.Store
	Logger *slog.Logger
}

func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: opts.Store,
		cache: newClientCache(),
		log:   log.With("component", "llm"),
	}
}

// SeedModels inserts registry models that have no settings row yet.
func (s *Service) SeedModels(ctx context.Context) error {
	specs, err := Models()
	if err != nil {
		return err
	}
	rows := make([]store.LLMSettings, 0, len(specs))
	for _, spec := range specs {
		rows = append(rows, store.LLMSettings{
			ModelName:     spec.Name,
			Provider:      spec.Provider,
			ContextWindow: spec.ContextWindow,
		})
	}
	return s.store.SeedLLMSettings(ctx, rows)
}

// ActiveCoder returns the model holding the CODER role, assigning the
// default coder model when no model holds it yet.
func (s *Service) ActiveCoder(ctx context.Context) (*store.LLMSettings, error) {
	settings, err := s.store.ActiveCoder(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, store.ErrLLMSettingsNotFound) {
		return nil, err
	}
	if err := s.store.SetActiveRole(ctx, DefaultCoderModel, store.RoleCoder); err != nil {
		return nil, err
	}
	s.log.Info("assigned default coder model", "model", DefaultCoderModel)
	return s.store.GetLLMSettings(ctx, DefaultCoderModel)
}

// Client returns a provider client for the model. A nil temperature leaves
// the provider default in place. reasoningOverride, when non-nil, replaces
// the stored reasoning config for this client only.
func (s *Service) Client(ctx context.Context, modelName string, temperature *float64, reasoningOverride map[string]any) (Client, error) {
	settings, err := s.store.GetLLMSettings(ctx, modelName)
	if err != nil {
		return nil, err
	}
	return s.clientFor(ctx, settings, temperature, reasoningOverride)
}

// PatchCompleter returns the low-temperature client used for secondary
// diff-reconstruction calls.
func (s *Service) PatchCompleter(ctx context.Context) (Client, error) {
	temp := 0.0
	return s.Client(ctx, DefaultCoderModel, &temp, nil)
}

func (s *Service) clientFor(ctx context.Context, settings *store.LLMSettings, temperature *float64, reasoningOverride map[string]any) (Client, error) {
	if settings == nil {
		return nil, store.ErrLLMSettingsNotFound
	}
	if !settings.HasAPIKey {
		return nil, fmt.Errorf("%w: provider=%s model=%s", ErrMissingAPIKey, settings.Provider, settings.ModelName)
	}

	reasoning := reasoningOverride
	if reasoning == nil {
		parsed, err := parseReasoningJSON(settings.ReasoningConfigJSON)
		if err != nil {
			return nil, err
		}
		reasoning = parsed
	}
	reasoning, err := NormalizeReasoning(settings.Provider, reasoning)
	if err != nil {
		return nil, err
	}

	temp := -1.0
	if temperature != nil {
		temp = *temperature
	}
	key := cacheKey(settings.ModelName, temp, settings.APIKey, reasoning)
	if client, ok := s.cache.get(key); ok {
		return client, nil
	}

	var client Client
	switch settings.Provider {
	case ProviderOpenAI:
		client = newOpenAIClient(settings.ModelName, settings.APIKey, temperature, reasoning)
	case ProviderAnthropic:
		client = newAnthropicClient(settings.ModelName, settings.APIKey, temperature, reasoning)
	case ProviderGoogle:
		client, err = newGoogleClient(ctx, settings.ModelName, settings.APIKey, temperature, reasoning)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported provider %q", settings.Provider)
	}
	// The usage-recording wrapper is cached with the client so identical
	// configurations share one instance.
	client = instrument(client, settings.Provider, settings.ModelName)
	s.cache.add(key, client)
	s.log.Debug("constructed llm client", "model", settings.ModelName, "provider", settings.Provider)
	return client, nil
}

// SetProviderAPIKey stores one logical key for every model of the provider.
func (s *Service) SetProviderAPIKey(ctx context.Context, provider string, key string) error {
	provider = strings.TrimSpace(provider)
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	default:
		return fmt.Errorf("unsupported provider %q", provider)
	}
	return s.store.UpdateProviderAPIKey(ctx, provider, key)
}

// SetCoder moves the CODER role to the named model.
func (s *Service) SetCoder(ctx context.Context, modelName string) error {
	if _, err := LookupModel(modelName); err != nil {
		return err
	}
	return s.store.SetActiveRole(ctx, modelName, store.RoleCoder)
}

// List returns every settings row with API keys masked.
func (s *Service) List(ctx context.Context) ([]store.LLMSettings, error) {
	rows, err := s.store.ListLLMSettings(ctx)
	if err != nil {
		return nil, err
	}
	return store.MaskedLLMSettings(rows), nil
}

// UpdateModelSettings validates and persists a context window and reasoning
// config. The window may not exceed the registry maximum; the reasoning
// config is normalized and, matching key semantics, propagated to every
// model of the same provider.
func (s *Service) UpdateModelSettings(ctx context.Context, modelName string, contextWindow int64, reasoning map[string]any) error {
	settings, err := s.store.GetLLMSettings(ctx, modelName)
	if err != nil {
		return err
	}
	spec, err := LookupModel(modelName)
	if err != nil {
		return err
	}
	if contextWindow <= 0 {
		contextWindow = settings.ContextWindow
	}
	if contextWindow > spec.ContextWindow {
		return &ContextWindowExceededError{Model: modelName, Requested: contextWindow, Max: spec.ContextWindow}
	}

	normalized, err := NormalizeReasoning(settings.Provider, reasoning)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	reasoningJSON := string(raw)

	if err := s.store.UpdateLLMSettings(ctx, modelName, contextWindow, reasoningJSON); err != nil {
		return err
	}

	rows, err := s.store.ListLLMSettings(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Provider != settings.Provider || row.ModelName == modelName {
			continue
		}
		if err := s.store.UpdateLLMSettings(ctx, row.ModelName, row.ContextWindow, reasoningJSON); err != nil {
			return err
		}
	}
	return nil
}
