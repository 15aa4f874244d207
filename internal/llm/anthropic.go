package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client       anthropic.Client
	model        string
	temperature  *float64
	budgetTokens int
}

func newAnthropicClient(model string, apiKey string, temperature *float64, reasoning map[string]any) *anthropicClient {
	budget := 0
	if n, ok := asInt(reasoning["budget_tokens"]); ok {
		budget = n
	}
	return &anthropicClient{
		client:       anthropic.NewClient(aoption.WithAPIKey(strings.TrimSpace(apiKey))),
		model:        model,
		temperature:  temperature,
		budgetTokens: budget,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return completeViaStream(ctx, c, system, userMessages)
}

func (c *anthropicClient) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	if c == nil {
		return TurnResult{}, errors.New("nil client")
	}
	tools, aliasToReal := buildAnthropicTools(req.Tools)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultMaxOutputTokens,
		Messages:  buildAnthropicMessages(req.Messages),
		Tools:     tools,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.MaxOutputTokens)
	}
	if c.temperature != nil {
		params.Temperature = anthropic.Float(*c.temperature)
	}
	if c.budgetTokens >= 1024 && int64(c.budgetTokens) < params.MaxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(c.budgetTokens))
	}
	if system := collectSystemPrompt(req.Messages); strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: strings.TrimSpace(system)}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	var textBuf strings.Builder
	calls := newPartialCallSet(onEvent)
	indexKey := func(idx int64) string { return fmt.Sprintf("block-%d", idx) }

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return TurnResult{}, err
		}
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if strings.TrimSpace(variant.ContentBlock.Type) != "tool_use" {
				continue
			}
			pc := calls.get(indexKey(variant.Index))
			if pc == nil {
				continue
			}
			pc.order = variant.Index
			callID := strings.TrimSpace(variant.ContentBlock.ID)
			if callID == "" {
				callID = fmt.Sprintf("anthropic_call_%d", variant.Index+1)
			}
			pc.setIdentity(callID, realToolName(aliasToReal, variant.ContentBlock.Name))
			calls.start(pc)
			if variant.ContentBlock.Input != nil {
				if b, err := json.Marshal(variant.ContentBlock.Input); err == nil {
					raw := strings.TrimSpace(string(b))
					if raw != "" && raw != "{}" {
						pc.argsRaw.WriteString(raw)
						calls.delta(pc)
					}
				}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				textBuf.WriteString(delta.Text)
				emitEvent(onEvent, StreamEvent{Type: StreamEventTextDelta, Text: delta.Text})
			case anthropic.InputJSONDelta:
				pc := calls.calls[indexKey(variant.Index)]
				if pc == nil || delta.PartialJSON == "" {
					continue
				}
				pc.argsRaw.WriteString(delta.PartialJSON)
				calls.delta(pc)
			case anthropic.ThinkingDelta:
				if strings.TrimSpace(delta.Thinking) != "" {
					emitEvent(onEvent, StreamEvent{Type: StreamEventThinkingDelta, Text: delta.Thinking})
				}
			}

		case anthropic.ContentBlockStopEvent:
			pc := calls.calls[indexKey(variant.Index)]
			if pc == nil || pc.ended {
				continue
			}
			raw := strings.TrimSpace(pc.argsRaw.String())
			if raw == "" {
				idx := int(variant.Index)
				if idx >= 0 && idx < len(msg.Content) {
					if tu, ok := msg.Content[idx].AsAny().(anthropic.ToolUseBlock); ok && len(tu.Input) > 0 {
						raw = strings.TrimSpace(string(tu.Input))
					}
				}
			}
			calls.end(pc, raw)
		}
	}
	if err := stream.Err(); err != nil {
		return TurnResult{}, err
	}

	result := TurnResult{
		FinishReason: mapAnthropicStopReason(msg.StopReason),
		Text:         strings.TrimSpace(textBuf.String()),
		Usage: TurnUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			CachedTokens: msg.Usage.CacheReadInputTokens,
		},
		ProviderDiag: map[string]any{"message_id": strings.TrimSpace(msg.ID)},
	}
	result.ToolCalls = calls.ordered()
	seen := map[string]struct{}{}
	for _, call := range result.ToolCalls {
		seen[call.ID] = struct{}{}
	}

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if strings.TrimSpace(result.Text) == "" {
				result.Text = strings.TrimSpace(variant.Text)
			}
		case anthropic.ToolUseBlock:
			callID := strings.TrimSpace(variant.ID)
			if callID == "" {
				continue
			}
			if _, ok := seen[callID]; ok {
				continue
			}
			args := map[string]any{}
			rawArgs := ""
			if len(variant.Input) > 0 {
				rawArgs = string(variant.Input)
				_ = json.Unmarshal(variant.Input, &args)
			}
			call := ToolCall{ID: callID, Name: realToolName(aliasToReal, variant.Name), Args: args}
			result.ToolCalls = append(result.ToolCalls, call)
			emitRecoveredCall(onEvent, call, rawArgs)
		}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	emitEvent(onEvent, StreamEvent{Type: StreamEventUsage, Usage: &PartialUsage{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens, CachedTokens: result.Usage.CachedTokens}})
	emitEvent(onEvent, StreamEvent{Type: StreamEventFinishReason, FinishHint: result.FinishReason})
	return result, nil
}

func buildAnthropicTools(defs []ToolDef) ([]anthropic.ToolUnionParam, map[string]string) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	aliasToReal := make(map[string]string, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schemaMap := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schemaMap)
		}
		required, _ := toStringSlice(schemaMap["required"])
		alias := sanitizeToolName(name)
		param := anthropic.ToolParam{
			Name:        alias,
			Description: anthropic.String(strings.TrimSpace(def.Description)),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: schemaMap["properties"], Required: required},
		}
		aliasToReal[alias] = name
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, aliasToReal
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages)+1)
	for _, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "system" {
			continue
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content)+1)
		for _, part := range msg.Content {
			switch strings.ToLower(strings.TrimSpace(part.Type)) {
			case "tool_result":
				callID := strings.TrimSpace(part.ToolCallID)
				if callID == "" {
					continue
				}
				content := strings.TrimSpace(part.Text)
				if content == "" && len(part.JSON) > 0 {
					content = string(part.JSON)
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(callID, content, false))
			case "tool_call":
				callID := strings.TrimSpace(part.ToolCallID)
				name := sanitizeToolName(part.ToolName)
				if callID == "" || name == "" {
					continue
				}
				var args any = map[string]any{}
				if raw := strings.TrimSpace(part.ArgsJSON); raw != "" {
					_ = json.Unmarshal([]byte(raw), &args)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(callID, args, name))
			default:
				if txt := strings.TrimSpace(part.Text); txt != "" {
					blocks = append(blocks, anthropic.NewTextBlock(txt))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}

func mapAnthropicStopReason(reason anthropic.StopReason) string {
	switch strings.TrimSpace(strings.ToLower(string(reason))) {
	case "tool_use":
		return "tool_calls"
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "refusal":
		return "content_filter"
	default:
		return "unknown"
	}
}

func toStringSlice(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, _ := item.(string)
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
