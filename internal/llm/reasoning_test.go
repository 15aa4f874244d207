package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeReasoningValid(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		in       map[string]any
		want     map[string]any
	}{
		{"openai explicit", ProviderOpenAI, map[string]any{"reasoning_effort": "high"}, map[string]any{"reasoning_effort": "high"}},
		{"openai empty defaults", ProviderOpenAI, map[string]any{}, map[string]any{"reasoning_effort": "medium"}},
		{"openai nil defaults", ProviderOpenAI, nil, map[string]any{"reasoning_effort": "medium"}},
		{"anthropic min budget", ProviderAnthropic, map[string]any{"type": "enabled", "budget_tokens": 1}, map[string]any{"type": "enabled", "budget_tokens": 1}},
		{"anthropic default budget", ProviderAnthropic, map[string]any{"type": "enabled"}, map[string]any{"type": "enabled", "budget_tokens": 8000}},
		{"anthropic max budget", ProviderAnthropic, map[string]any{"type": "enabled", "budget_tokens": 16000}, map[string]any{"type": "enabled", "budget_tokens": 16000}},
		{"google explicit", ProviderGoogle, map[string]any{"thinking_level": "LOW"}, map[string]any{"thinking_level": "LOW"}},
		{"google empty defaults", ProviderGoogle, map[string]any{}, map[string]any{"thinking_level": "LOW"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeReasoning(tc.provider, tc.in)
			if err != nil {
				t.Fatalf("NormalizeReasoning: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				gv, ok := got[k]
				if !ok {
					t.Fatalf("missing key %q in %v", k, got)
				}
				if wi, ok := asInt(v); ok {
					gi, _ := asInt(gv)
					if gi != wi {
						t.Fatalf("key %q: got %v, want %v", k, gv, v)
					}
					continue
				}
				if gv != v {
					t.Fatalf("key %q: got %v, want %v", k, gv, v)
				}
			}
		})
	}
}

func TestNormalizeReasoningInvalid(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		in       map[string]any
	}{
		{"openai bad effort", ProviderOpenAI, map[string]any{"reasoning_effort": "nope"}},
		{"openai stray field", ProviderOpenAI, map[string]any{"budget_tokens": 1}},
		{"anthropic zero budget", ProviderAnthropic, map[string]any{"type": "enabled", "budget_tokens": 0}},
		{"anthropic over budget", ProviderAnthropic, map[string]any{"type": "enabled", "budget_tokens": 16001}},
		{"anthropic bad type", ProviderAnthropic, map[string]any{"type": "whatever", "budget_tokens": 16000}},
		{"google bad level", ProviderGoogle, map[string]any{"thinking_level": "NOPE"}},
		{"unsupported provider", "FAKE", map[string]any{"any": "value"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeReasoning(tc.provider, tc.in)
			var invalid *InvalidReasoningConfigError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidReasoningConfigError, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), "Invalid reasoning_config for provider=") {
				t.Fatalf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestReasoningFingerprintOrderIndependent(t *testing.T) {
	a := ReasoningFingerprint(map[string]any{"b": 2, "a": 1})
	b := ReasoningFingerprint(map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}
	if a == "" {
		t.Fatal("expected non-empty fingerprint")
	}
}

func TestReasoningFingerprintNilEqualsEmpty(t *testing.T) {
	if ReasoningFingerprint(nil) != ReasoningFingerprint(map[string]any{}) {
		t.Fatal("nil and empty config should share a fingerprint")
	}
}

func TestCacheKeyStable(t *testing.T) {
	k1 := cacheKey("gpt-4.1-mini-2025-04-14", 0.2, "sk-test", map[string]any{"b": 2, "a": 1})
	k2 := cacheKey("gpt-4.1-mini-2025-04-14", 0.2, "sk-test", map[string]any{"a": 1, "b": 2})
	if k1 != k2 {
		t.Fatalf("equivalent configs produced different keys")
	}
	k3 := cacheKey("gpt-4.1-mini-2025-04-14", 0.3, "sk-test", map[string]any{"a": 1, "b": 2})
	if k1 == k3 {
		t.Fatal("temperature change should change the key")
	}
	k4 := cacheKey("gpt-4.1-mini-2025-04-14", 0.2, "sk-other", map[string]any{"a": 1, "b": 2})
	if k1 == k4 {
		t.Fatal("api key change should change the key")
	}
}
