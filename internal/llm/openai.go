package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

const defaultMaxOutputTokens = 4096

type openAIClient struct {
	client      openai.Client
	model       string
	temperature *float64
	effort      string
}

func newOpenAIClient(model string, apiKey string, temperature *float64, reasoning map[string]any) *openAIClient {
	effort, _ := reasoning["reasoning_effort"].(string)
	return &openAIClient{
		client:      openai.NewClient(ooption.WithAPIKey(strings.TrimSpace(apiKey))),
		model:       model,
		temperature: temperature,
		effort:      effort,
	}
}

func (c *openAIClient) Complete(ctx context.Context, system string, userMessages ...string) (string, error) {
	return completeViaStream(ctx, c, system, userMessages)
}

func (c *openAIClient) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	if c == nil {
		return TurnResult{}, errors.New("nil client")
	}

	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(c.model),
		MaxOutputTokens:   openai.Int(defaultMaxOutputTokens),
		ParallelToolCalls: openai.Bool(false),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	if c.effort != "" {
		params.Reasoning = oshared.ReasoningParam{Effort: oshared.ReasoningEffort(c.effort)}
	}

	inputItems, instructions := buildOpenAIInput(req.Messages)
	if len(inputItems) == 0 {
		inputItems = append(inputItems, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: inputItems}
	if strings.TrimSpace(instructions) != "" {
		params.Instructions = openai.String(strings.TrimSpace(instructions))
	}
	tools, aliasToReal := buildOpenAITools(req.Tools)
	if len(tools) > 0 {
		params.Tools = tools
	}

	stream := c.client.Responses.NewStreaming(ctx, params)
	var textBuf strings.Builder
	var completed oresponses.Response
	gotCompleted := false

	calls := newPartialCallSet(onEvent)

	for stream.Next() {
		event := stream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			textBuf.WriteString(delta)
			emitEvent(onEvent, StreamEvent{Type: StreamEventTextDelta, Text: delta})

		case "response.output_item.added":
			item := event.Item
			if strings.TrimSpace(item.Type) != "function_call" {
				continue
			}
			pc := calls.get(item.ID)
			if pc == nil {
				continue
			}
			if pc.order < 0 {
				pc.order = event.OutputIndex
			}
			pc.setIdentity(item.CallID, realToolName(aliasToReal, item.Name))
			calls.start(pc)
			if raw := strings.TrimSpace(item.Arguments); raw != "" {
				pc.argsRaw.WriteString(raw)
				calls.delta(pc)
			}

		case "response.function_call_arguments.delta":
			pc := calls.get(event.ItemID)
			if pc == nil {
				continue
			}
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			pc.argsRaw.WriteString(delta)
			calls.delta(pc)

		case "response.function_call_arguments.done":
			pc := calls.get(event.ItemID)
			if pc == nil {
				continue
			}
			if raw := strings.TrimSpace(event.Arguments); raw != "" {
				pc.argsRaw.Reset()
				pc.argsRaw.WriteString(raw)
			}
			calls.end(pc, pc.argsRaw.String())

		case "response.output_item.done":
			item := event.Item
			if strings.TrimSpace(item.Type) != "function_call" {
				continue
			}
			pc := calls.get(item.ID)
			if pc == nil {
				continue
			}
			pc.setIdentity(item.CallID, realToolName(aliasToReal, item.Name))
			if raw := strings.TrimSpace(item.Arguments); raw != "" && strings.TrimSpace(pc.argsRaw.String()) == "" {
				pc.argsRaw.WriteString(raw)
			}
			calls.end(pc, pc.argsRaw.String())

		case "response.completed":
			completed = event.Response
			gotCompleted = true
		}
	}
	if err := stream.Err(); err != nil {
		return TurnResult{}, err
	}
	if !gotCompleted {
		return TurnResult{}, errors.New("missing response.completed event")
	}

	result := TurnResult{
		FinishReason: mapOpenAIStatus(completed.Status),
		Text:         strings.TrimSpace(textBuf.String()),
		Usage: TurnUsage{
			InputTokens:     completed.Usage.InputTokens,
			OutputTokens:    completed.Usage.OutputTokens,
			CachedTokens:    completed.Usage.InputTokensDetails.CachedTokens,
			ReasoningTokens: completed.Usage.OutputTokensDetails.ReasoningTokens,
		},
		ProviderDiag: map[string]any{"response_id": strings.TrimSpace(completed.ID)},
	}
	result.ToolCalls = calls.ordered()
	seen := map[string]struct{}{}
	for _, call := range result.ToolCalls {
		seen[call.ID] = struct{}{}
	}

	// Stream events occasionally drop calls; recover them from the final
	// response output.
	for _, item := range completed.Output {
		if strings.TrimSpace(item.Type) != "function_call" {
			continue
		}
		callID := strings.TrimSpace(item.CallID)
		if callID == "" {
			callID = strings.TrimSpace(item.ID)
		}
		if callID == "" {
			continue
		}
		if _, ok := seen[callID]; ok {
			continue
		}
		args := map[string]any{}
		rawArgs := strings.TrimSpace(item.Arguments)
		if rawArgs != "" {
			_ = json.Unmarshal([]byte(rawArgs), &args)
		}
		call := ToolCall{ID: callID, Name: realToolName(aliasToReal, item.Name), Args: args}
		result.ToolCalls = append(result.ToolCalls, call)
		emitRecoveredCall(onEvent, call, rawArgs)
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	if result.Text == "" {
		result.Text = strings.TrimSpace(extractOpenAIText(completed))
	}
	emitEvent(onEvent, StreamEvent{Type: StreamEventUsage, Usage: &PartialUsage{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens, CachedTokens: result.Usage.CachedTokens, ReasoningTokens: result.Usage.ReasoningTokens}})
	emitEvent(onEvent, StreamEvent{Type: StreamEventFinishReason, FinishHint: result.FinishReason})
	return result, nil
}

func buildOpenAITools(defs []ToolDef) ([]oresponses.ToolUnionParam, map[string]string) {
	out := make([]oresponses.ToolUnionParam, 0, len(defs))
	aliasToReal := make(map[string]string, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		alias := sanitizeToolName(def.Name)
		out = append(out, oresponses.ToolParamOfFunction(alias, schema, false))
		aliasToReal[alias] = def.Name
	}
	return out, aliasToReal
}

func buildOpenAIInput(messages []Message) (oresponses.ResponseInputParam, string) {
	items := make(oresponses.ResponseInputParam, 0, len(messages)+2)
	instructions := ""
	for _, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case "system":
			if txt := joinMessageText(msg); txt != "" {
				if instructions == "" {
					instructions = txt
				} else {
					instructions += "\n\n" + txt
				}
			}
		case "tool":
			for _, part := range msg.Content {
				if strings.TrimSpace(part.Type) != "tool_result" {
					continue
				}
				callID := strings.TrimSpace(part.ToolCallID)
				if callID == "" {
					continue
				}
				output := strings.TrimSpace(part.Text)
				if output == "" && len(part.JSON) > 0 {
					output = string(part.JSON)
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(callID, output))
			}
		case "assistant":
			for _, part := range msg.Content {
				switch strings.ToLower(strings.TrimSpace(part.Type)) {
				case "text":
					if txt := strings.TrimSpace(part.Text); txt != "" {
						items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, oresponses.EasyInputMessageRoleAssistant))
					}
				case "tool_call":
					callID := strings.TrimSpace(part.ToolCallID)
					name := sanitizeToolName(part.ToolName)
					if callID == "" || name == "" {
						continue
					}
					argsRaw := strings.TrimSpace(part.ArgsJSON)
					if argsRaw == "" || !json.Valid([]byte(argsRaw)) {
						argsRaw = "{}"
					}
					items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(argsRaw, callID, name))
				}
			}
		default:
			if txt := joinMessageText(msg); txt != "" {
				items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, oresponses.EasyInputMessageRoleUser))
			}
		}
	}
	return items, instructions
}

func extractOpenAIText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if strings.TrimSpace(part.Type) != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.TrimSpace(part.Text))
		}
	}
	return sb.String()
}

func mapOpenAIStatus(status oresponses.ResponseStatus) string {
	switch strings.TrimSpace(strings.ToLower(string(status))) {
	case "completed":
		return "stop"
	case "incomplete":
		return "length"
	case "failed", "cancelled":
		return "error"
	default:
		return "unknown"
	}
}

func realToolName(aliasToReal map[string]string, alias string) string {
	alias = strings.TrimSpace(alias)
	if real, ok := aliasToReal[alias]; ok {
		return real
	}
	return alias
}

// partialCall accumulates one streaming tool call.
type partialCall struct {
	id      string
	name    string
	order   int64
	started bool
	ended   bool
	argsRaw strings.Builder
	args    map[string]any
}

func (pc *partialCall) setIdentity(id, name string) {
	if id = strings.TrimSpace(id); id != "" {
		pc.id = id
	}
	if name = strings.TrimSpace(name); name != "" {
		pc.name = name
	}
}

// partialCallSet tracks in-flight tool calls and emits the
// start/delta/end event sequence exactly once per call.
type partialCallSet struct {
	onEvent func(StreamEvent)
	calls   map[string]*partialCall
}

func newPartialCallSet(onEvent func(StreamEvent)) *partialCallSet {
	return &partialCallSet{onEvent: onEvent, calls: map[string]*partialCall{}}
}

func (s *partialCallSet) get(key string) *partialCall {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if pc := s.calls[key]; pc != nil {
		return pc
	}
	pc := &partialCall{id: key, order: -1}
	s.calls[key] = pc
	return pc
}

func (s *partialCallSet) start(pc *partialCall) {
	if pc == nil || pc.started {
		return
	}
	pc.started = true
	emitEvent(s.onEvent, StreamEvent{Type: StreamEventToolCallStart, ToolCall: &PartialToolCall{ID: pc.id, Name: pc.name}})
}

func (s *partialCallSet) delta(pc *partialCall) {
	if pc == nil || pc.id == "" || pc.name == "" {
		return
	}
	s.start(pc)
	raw := strings.TrimSpace(pc.argsRaw.String())
	var args map[string]any
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &args) // deltas may be incomplete JSON
	}
	emitEvent(s.onEvent, StreamEvent{Type: StreamEventToolCallDelta, ToolCall: &PartialToolCall{ID: pc.id, Name: pc.name, ArgumentsJSON: raw, Arguments: cloneAnyMap(args)}})
}

func (s *partialCallSet) end(pc *partialCall, rawArgs string) {
	if pc == nil || pc.ended {
		return
	}
	pc.ended = true
	rawArgs = strings.TrimSpace(rawArgs)
	args := map[string]any{}
	if rawArgs != "" {
		_ = json.Unmarshal([]byte(rawArgs), &args)
	}
	pc.args = args
	s.start(pc)
	emitEvent(s.onEvent, StreamEvent{Type: StreamEventToolCallEnd, ToolCall: &PartialToolCall{ID: pc.id, Name: pc.name, Arguments: cloneAnyMap(args)}})
}

// ordered returns the completed calls in provider output order.
func (s *partialCallSet) ordered() []ToolCall {
	done := make([]*partialCall, 0, len(s.calls))
	for _, pc := range s.calls {
		if pc == nil || !pc.ended || strings.TrimSpace(pc.id) == "" {
			continue
		}
		done = append(done, pc)
	}
	sort.SliceStable(done, func(i, j int) bool {
		a, b := done[i].order, done[j].order
		if a < 0 && b >= 0 {
			return false
		}
		if b < 0 && a >= 0 {
			return true
		}
		if a == b {
			return done[i].id < done[j].id
		}
		return a < b
	})
	out := make([]ToolCall, 0, len(done))
	for _, pc := range done {
		out = append(out, ToolCall{ID: pc.id, Name: pc.name, Args: cloneAnyMap(pc.args)})
	}
	return out
}

func emitRecoveredCall(onEvent func(StreamEvent), call ToolCall, rawArgs string) {
	emitEvent(onEvent, StreamEvent{Type: StreamEventToolCallStart, ToolCall: &PartialToolCall{ID: call.ID, Name: call.Name}})
	emitEvent(onEvent, StreamEvent{Type: StreamEventToolCallDelta, ToolCall: &PartialToolCall{ID: call.ID, Name: call.Name, ArgumentsJSON: rawArgs, Arguments: cloneAnyMap(call.Args)}})
	emitEvent(onEvent, StreamEvent{Type: StreamEventToolCallEnd, ToolCall: &PartialToolCall{ID: call.ID, Name: call.Name, Arguments: cloneAnyMap(call.Args)}})
}
