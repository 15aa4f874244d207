package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	ProviderAnthropic = "ANTHROPIC"
	ProviderGoogle    = "GOOGLE"
	ProviderOpenAI    = "OPENAI"
)

const (
	anthropicMinBudgetTokens     = 1
	anthropicMaxBudgetTokens     = 16000
	anthropicDefaultBudgetTokens = 8000
)

var openAIEfforts = map[string]bool{"low": true, "medium": true, "high": true}
var googleThinkingLevels = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true}

// NormalizeReasoning validates cfg against the provider schema and fills in
// provider defaults. nil and the empty map are equivalent and normalize to
// the provider's default config.
func NormalizeReasoning(provider string, cfg map[string]any) (map[string]any, error) {
	switch provider {
	case ProviderOpenAI:
		return normalizeOpenAIReasoning(cfg)
	case ProviderAnthropic:
		return normalizeAnthropicReasoning(cfg)
	case ProviderGoogle:
		return normalizeGoogleReasoning(cfg)
	default:
		return nil, &InvalidReasoningConfigError{Provider: provider, Reason: "unsupported provider"}
	}
}

func normalizeOpenAIReasoning(cfg map[string]any) (map[string]any, error) {
	effort := "medium"
	for key, value := range cfg {
		if key != "reasoning_effort" {
			return nil, &InvalidReasoningConfigError{Provider: ProviderOpenAI, Reason: "unexpected field " + key}
		}
		s, ok := value.(string)
		if !ok || !openAIEfforts[s] {
			return nil, &InvalidReasoningConfigError{Provider: ProviderOpenAI, Reason: fmt.Sprintf("invalid reasoning_effort %v", value)}
		}
		effort = s
	}
	return map[string]any{"reasoning_effort": effort}, nil
}

func normalizeAnthropicReasoning(cfg map[string]any) (map[string]any, error) {
	budget := anthropicDefaultBudgetTokens
	for key, value := range cfg {
		switch key {
		case "type":
			if s, ok := value.(string); !ok || s != "enabled" {
				return nil, &InvalidReasoningConfigError{Provider: ProviderAnthropic, Reason: fmt.Sprintf("invalid type %v", value)}
			}
		case "budget_tokens":
			n, ok := asInt(value)
			if !ok || n < anthropicMinBudgetTokens || n > anthropicMaxBudgetTokens {
				return nil, &InvalidReasoningConfigError{Provider: ProviderAnthropic, Reason: fmt.Sprintf("budget_tokens %v out of range", value)}
			}
			budget = n
		default:
			return nil, &InvalidReasoningConfigError{Provider: ProviderAnthropic, Reason: "unexpected field " + key}
		}
	}
	return map[string]any{"type": "enabled", "budget_tokens": budget}, nil
}

func normalizeGoogleReasoning(cfg map[string]any) (map[string]any, error) {
	level := "LOW"
	for key, value := range cfg {
		if key != "thinking_level" {
			return nil, &InvalidReasoningConfigError{Provider: ProviderGoogle, Reason: "unexpected field " + key}
		}
		s, ok := value.(string)
		if !ok || !googleThinkingLevels[s] {
			return nil, &InvalidReasoningConfigError{Provider: ProviderGoogle, Reason: fmt.Sprintf("invalid thinking_level %v", value)}
		}
		level = s
	}
	return map[string]any{"thinking_level": level}, nil
}

// ReasoningFingerprint renders cfg in a canonical order-independent form,
// suitable for use inside cache keys. nil and {} produce the same output.
func ReasoningFingerprint(cfg map[string]any) string {
	if len(cfg) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		raw, _ := json.Marshal(cfg[k])
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.Write(raw)
	}
	return sb.String()
}

func parseReasoningJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("malformed reasoning config: %w", err)
	}
	return cfg, nil
}

// asInt accepts the numeric shapes JSON decoding and literal maps produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
