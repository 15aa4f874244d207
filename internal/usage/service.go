package usage

import (
	"context"
	"log/slog"

	"github.com/atelierhq/coderd/internal/store"
)

// Metrics is the rolled-up snapshot sent to clients after a batch of usage
// lands.
type Metrics struct {
	SessionCost  float64 `json:"session_cost"`
	GlobalCost   float64 `json:"global_cost"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CachedTokens int64   `json:"cached_tokens"`
}

// Service folds consumed events into the per-session and per-provider
// accumulator tables.
type Service struct {
	store *store.Store
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
	return &Service{store: opts.Store, log: log.With("component", "usage")}
}

// ProcessBatch persists a batch of events against the session and returns
// the updated metrics snapshot. An empty batch still returns the current
// snapshot.
func (s *Service) ProcessBatch(ctx context.Context, sessionID int64, events []Event) (Metrics, error) {
	byProvider := map[string]store.UsageIncrement{}
	for _, e := range events {
		inc := byProvider[e.Provider]
		inc.SessionID = sessionID
		inc.Provider = e.Provider
		inc.Cost += Cost(e)
		inc.InputTokens += e.InputTokens
		inc.OutputTokens += e.OutputTokens
		inc.CachedTokens += e.CachedTokens
		byProvider[e.Provider] = inc
	}
	for _, inc := range byProvider {
		if err := s.store.AddUsage(ctx, inc); err != nil {
			return Metrics{}, err
		}
	}
	if len(byProvider) > 0 {
		s.log.Debug("usage batch persisted", "session_id", sessionID, "events", len(events), "providers", len(byProvider))
	}
	return s.Snapshot(ctx, sessionID)
}

// Snapshot reads the current totals for the session plus the global cost
// across every provider.
func (s *Service) Snapshot(ctx context.Context, sessionID int64) (Metrics, error) {
	session, err := s.store.GetSessionUsage(ctx, sessionID)
	if err != nil {
		return Metrics{}, err
	}
	providers, err := s.store.ListProviderUsage(ctx)
	if err != nil {
		return Metrics{}, err
	}
	m := Metrics{
		SessionCost:  session.Cost,
		InputTokens:  session.InputTokens,
		OutputTokens: session.OutputTokens,
		CachedTokens: session.CachedTokens,
	}
	for _, p := range providers {
		m.GlobalCost += p.Cost
	}
	return m, nil
}
