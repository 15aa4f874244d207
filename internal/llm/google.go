package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Thinking budgets backing the coarse thinking_level setting.
var googleThinkingBudgets = map[string]int32{
	"LOW":    1024,
	"MEDIUM": 8192,
	"HIGH":   24576,
}

type googleClient struct {
	client         *genai.Client
	model          string
	temperature    *float64
	thinkingBudget int32
}

func newGoogleClient(ctx context.Context, model string, apiKey string, temperature *float64, reasoning map[string]any) (*googleClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  strings.TrimSpace(apiKey),
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	budget := int32(0)
	if level, ok := reasoning["thinking_level"].(string); ok {
		budget = googleThinkingBudgets[level]
	}
	return &googleClient{
		client:         client,
		model:          model,
		temperature:    temperature,
		thinkingBudget: budget,
	}, nil
}

func (c *googleClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return completeViaStream(ctx, c, system, userMessages)
}

func (c *googleClient) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	if c == nil {
		return TurnResult{}, errors.New("nil client")
	}

	config := &genai.GenerateContentConfig{}
	if c.temperature != nil {
		t := float32(*c.temperature)
		config.Temperature = &t
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if c.thinkingBudget > 0 {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  &c.thinkingBudget,
		}
	}
	if system := collectSystemPrompt(req.Messages); strings.TrimSpace(system) != "" {
		config.SystemInstruction = genai.NewContentFromText(strings.TrimSpace(system), genai.RoleUser)
	}
	tools, aliasToReal := buildGoogleTools(req.Tools)
	if len(tools) > 0 {
		config.Tools = tools
	}

	contents := buildGoogleContents(req.Messages)

	result := TurnResult{FinishReason: "unknown"}
	var textBuf strings.Builder
	callSeq := 0

	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			return TurnResult{}, err
		}
		if resp == nil {
			break
		}
		if resp.UsageMetadata != nil {
			result.Usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
			result.Usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
			result.Usage.CachedTokens = int64(resp.UsageMetadata.CachedContentTokenCount)
			result.Usage.ReasoningTokens = int64(resp.UsageMetadata.ThoughtsTokenCount)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Thought {
					if strings.TrimSpace(part.Text) != "" {
						emitEvent(onEvent, StreamEvent{Type: StreamEventThinkingDelta, Text: part.Text})
					}
					continue
				}
				if part.Text != "" {
					textBuf.WriteString(part.Text)
					emitEvent(onEvent, StreamEvent{Type: StreamEventTextDelta, Text: part.Text})
				}
				if part.FunctionCall != nil {
					callSeq++
					callID := strings.TrimSpace(part.FunctionCall.ID)
					if callID == "" {
						callID = fmt.Sprintf("gemini_call_%d", callSeq)
					}
					call := ToolCall{
						ID:   callID,
						Name: realToolName(aliasToReal, part.FunctionCall.Name),
						Args: cloneAnyMap(part.FunctionCall.Args),
					}
					result.ToolCalls = append(result.ToolCalls, call)
					emitRecoveredCall(onEvent, call, "")
				}
			}
		}
		if candidate.FinishReason != "" {
			result.FinishReason = mapGoogleFinishReason(candidate.FinishReason)
		}
	}

	result.Text = strings.TrimSpace(textBuf.String())
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	emitEvent(onEvent, StreamEvent{Type: StreamEventUsage, Usage: &PartialUsage{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens, CachedTokens: result.Usage.CachedTokens, ReasoningTokens: result.Usage.ReasoningTokens}})
	emitEvent(onEvent, StreamEvent{Type: StreamEventFinishReason, FinishHint: result.FinishReason})
	return result, nil
}

func buildGoogleTools(defs []ToolDef) ([]*genai.Tool, map[string]string) {
	if len(defs) == 0 {
		return nil, nil
	}
	aliasToReal := make(map[string]string, len(defs))
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		alias := sanitizeToolName(name)
		aliasToReal[alias] = name
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        alias,
			Description: strings.TrimSpace(def.Description),
			Parameters:  schemaFromJSON(def.InputSchema),
		})
	}
	if len(declarations) == 0 {
		return nil, nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}, aliasToReal
}

func buildGoogleContents(messages []Message) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case "system":
			// carried via SystemInstruction
		case "tool":
			var parts []*genai.Part
			for _, part := range msg.Content {
				if strings.TrimSpace(part.Type) != "tool_result" {
					continue
				}
				name := strings.TrimSpace(part.ToolName)
				if name == "" {
					name = "tool"
				}
				fr := genai.NewPartFromFunctionResponse(sanitizeToolName(name), map[string]any{"output": part.Text})
				fr.FunctionResponse.ID = strings.TrimSpace(part.ToolCallID)
				parts = append(parts, fr)
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		case "assistant":
			var parts []*genai.Part
			for _, part := range msg.Content {
				switch strings.ToLower(strings.TrimSpace(part.Type)) {
				case "text":
					if txt := strings.TrimSpace(part.Text); txt != "" {
						parts = append(parts, genai.NewPartFromText(txt))
					}
				case "tool_call":
					name := sanitizeToolName(part.ToolName)
					if name == "" {
						continue
					}
					args := map[string]any{}
					if raw := strings.TrimSpace(part.ArgsJSON); raw != "" {
						_ = json.Unmarshal([]byte(raw), &args)
					}
					fc := genai.NewPartFromFunctionCall(name, args)
					fc.FunctionCall.ID = strings.TrimSpace(part.ToolCallID)
					parts = append(parts, fc)
				}
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		default:
			if txt := joinMessageText(msg); txt != "" {
				out = append(out, genai.NewContentFromText(txt, genai.RoleUser))
			}
		}
	}
	if len(out) == 0 {
		out = append(out, genai.NewContentFromText("Continue.", genai.RoleUser))
	}
	return out
}

// schemaFromJSON converts a JSON-schema document into the typed genai schema.
// Only the subset tool definitions actually use is covered.
func schemaFromJSON(raw []byte) *genai.Schema {
	if len(raw) == 0 {
		return nil
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return schemaFromMap(doc)
}

func schemaFromMap(doc map[string]any) *genai.Schema {
	if doc == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := doc["type"].(string); ok {
		out.Type = mapGoogleSchemaType(t)
	}
	if d, ok := doc["description"].(string); ok {
		out.Description = d
	}
	if e, ok := doc["enum"].([]any); ok {
		for _, item := range e {
			if s, ok := item.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				out.Properties[name] = schemaFromMap(subMap)
			}
		}
	}
	if req, ok := toStringSlice(doc["required"]); ok {
		out.Required = req
	}
	if items, ok := doc["items"].(map[string]any); ok {
		out.Items = schemaFromMap(items)
	}
	return out
}

func mapGoogleSchemaType(t string) genai.Type {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

func mapGoogleFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return "content_filter"
	default:
		return "unknown"
	}
}
