package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// OpenAIAdapter implements the OpenAI-compatible chat/completions wire
// format shared by the openai, openrouter, and nvidia provider types: all
// three are OpenAI-compatible at the wire level and differ only in base
// URL, auth header, and which model-level parameters need stripping.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) BuildRequest(req *unified.UnifiedRequest, upstreamModel string, cfg Config) ([]byte, http.Header, string, error) {
	body := `{}`
	body, _ = sjson.Set(body, "model", upstreamModel)
	body, _ = sjson.Set(body, "stream", req.Stream)
	if req.Stream {
		body, _ = sjson.SetRaw(body, "stream_options", `{"include_usage":true}`)
	}

	messages := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if msg := openAIMessage(m); msg != nil {
			messages = append(messages, msg)
		}
	}
	body, _ = sjson.SetRaw(body, "messages", mustMarshal(messages))

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  json.RawMessage(t.InputSchema),
				},
			})
		}
		body, _ = sjson.SetRaw(body, "tools", mustMarshal(tools))
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case unified.ToolChoiceAuto:
			body, _ = sjson.Set(body, "tool_choice", "auto")
		case unified.ToolChoiceNone:
			body, _ = sjson.Set(body, "tool_choice", "none")
		case unified.ToolChoiceRequired:
			body, _ = sjson.Set(body, "tool_choice", "required")
		case unified.ToolChoiceSpecific:
			body, _ = sjson.SetRaw(body, "tool_choice", mustMarshal(map[string]any{
				"type":     "function",
				"function": map[string]string{"name": req.ToolChoice.Name},
			}))
		}
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Kind {
		case unified.ResponseFormatJSONObject:
			body, _ = sjson.SetRaw(body, "response_format", `{"type":"json_object"}`)
		case unified.ResponseFormatJSONSchema:
			body, _ = sjson.SetRaw(body, "response_format", mustMarshal(map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   rf.Name,
					"schema": json.RawMessage(rf.Schema),
					"strict": rf.Strict,
				},
			}))
		}
	}

	if s := req.Sampling; s != nil {
		if s.MaxOutputTokens != nil {
			body, _ = sjson.Set(body, "max_completion_tokens", *s.MaxOutputTokens)
		}
		if s.Temperature != nil {
			body, _ = sjson.Set(body, "temperature", *s.Temperature)
		}
		if s.TopP != nil {
			body, _ = sjson.Set(body, "top_p", *s.TopP)
		}
		if s.FrequencyPenalty != nil {
			body, _ = sjson.Set(body, "frequency_penalty", *s.FrequencyPenalty)
		}
		if s.PresencePenalty != nil {
			body, _ = sjson.Set(body, "presence_penalty", *s.PresencePenalty)
		}
		if s.Seed != nil {
			body, _ = sjson.Set(body, "seed", *s.Seed)
		}
		if len(s.StopSequences) > 0 {
			body, _ = sjson.SetRaw(body, "stop", mustMarshal(s.StopSequences))
		}
	}

	for _, path := range stripParamPaths(cfg, upstreamModel) {
		body, _ = sjson.Delete(body, path)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	for k, v := range cfg.ExtraHeaders {
		headers.Set(k, v)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"

	return []byte(body), headers, url, nil
}

func openAIMessage(m unified.Message) any {
	switch m.Role {
	case unified.RoleSystem:
		return map[string]any{"role": "system", "content": m.Text}

	case unified.RoleUser:
		if len(m.Parts) == 0 {
			return map[string]any{"role": "user", "content": m.Text}
		}
		return map[string]any{"role": "user", "content": openAIUserParts(m.Parts)}

	case unified.RoleAssistant:
		msg := map[string]any{"role": "assistant"}
		var text strings.Builder
		var toolCalls []any

		for _, p := range m.Parts {
			switch p.Kind {
			case unified.PartText:
				text.WriteString(p.Text)
			case unified.PartToolCall:
				toolCalls = append(toolCalls, map[string]any{
					"id":   p.ToolCallID,
					"type": "function",
					"function": map[string]any{
						"name":      p.ToolName,
						"arguments": string(p.ToolInput),
					},
				})
			}
		}

		if text.Len() > 0 {
			msg["content"] = text.String()
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		return msg

	case unified.RoleTool:
		tr := m.ToolResult
		content := tr.Text
		if tr.IsJSON {
			if b, err := json.Marshal(tr.JSONValue); err == nil {
				content = string(b)
			}
		}
		return map[string]any{"role": "tool", "tool_call_id": tr.ToolCallID, "content": content}

	default:
		return nil
	}
}

func openAIUserParts(parts []unified.Part) []any {
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case unified.PartText:
			out = append(out, map[string]any{"type": "text", "text": p.Text})
		case unified.PartImageURL:
			url := p.URL
			if url == "" && p.Data != "" {
				url = fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data)
			}
			out = append(out, map[string]any{"type": "image_url", "image_url": map[string]string{"url": url}})
		case unified.PartAudio:
			out = append(out, map[string]any{"type": "input_audio", "input_audio": map[string]string{"format": p.Format, "data": p.Data}})
		case unified.PartFile:
			out = append(out, map[string]any{"type": "file", "file": map[string]string{"filename": p.Filename, "file_data": p.Data}})
		}
	}
	return out
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, body []byte, headers http.Header, url string) (*unified.UnifiedResponse, error) {
	resp, err := doRequest(ctx, http.MethodPost, url, body, headers)
	if resp == nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, derr := decompressReader(resp)
	if derr != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ClassUpstreamTransient, "decompress upstream body", derr)
	}

	raw, rerr := io.ReadAll(reader)
	if rerr != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ClassUpstreamTransient, "read upstream body", rerr)
	}

	if err != nil {
		return nil, attachUpstreamMessage(err, raw)
	}

	return parseOpenAIResponse(raw)
}

// attachUpstreamMessage enriches a classified gatewayerr.Error with the
// upstream's own error.message field, when present, for logging/debugging.
func attachUpstreamMessage(err error, raw []byte) error {
	ge, ok := gatewayerr.As(err)
	if !ok {
		return err
	}
	if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
		ge.Message = msg
	}
	return ge
}

func parseOpenAIResponse(raw []byte) (*unified.UnifiedResponse, error) {
	v := gjson.ParseBytes(raw)

	choice := v.Get("choices.0")
	if !choice.Exists() {
		return nil, gatewayerr.New(gatewayerr.ClassUpstreamInvalid, "no choices in upstream response")
	}

	var content []unified.Part
	if text := choice.Get("message.content"); text.Type == gjson.String && text.String() != "" {
		content = append(content, unified.Part{Kind: unified.PartText, Text: text.String()})
	}
	for _, tc := range choice.Get("message.tool_calls").Array() {
		content = append(content, unified.Part{
			Kind:       unified.PartToolCall,
			ToolCallID: tc.Get("id").String(),
			ToolName:   tc.Get("function.name").String(),
			ToolInput:  json.RawMessage(tc.Get("function.arguments").String()),
		})
	}

	usage := unified.Usage{
		InputTokens:  int(v.Get("usage.prompt_tokens").Int()),
		OutputTokens: int(v.Get("usage.completion_tokens").Int()),
		TotalTokens:  int(v.Get("usage.total_tokens").Int()),
	}
	if cached := v.Get("usage.prompt_tokens_details.cached_tokens"); cached.Exists() {
		n := int(cached.Int())
		usage.CachedInputTokens = &n
	}
	if reasoning := v.Get("usage.completion_tokens_details.reasoning_tokens"); reasoning.Exists() {
		n := int(reasoning.Int())
		usage.ReasoningTokens = &n
	}

	return &unified.UnifiedResponse{
		FinishReason:  mapOpenAIFinish(choice.Get("finish_reason").String()),
		Content:       content,
		Usage:         usage,
		ProviderModel: v.Get("model").String(),
	}, nil
}

func mapOpenAIFinish(reason string) unified.FinishReason {
	switch reason {
	case "stop":
		return unified.FinishStop
	case "length":
		return unified.FinishLength
	case "tool_calls", "function_call":
		return unified.FinishToolCalls
	case "content_filter":
		return unified.FinishContentFilter
	default:
		return unified.FinishOther
	}
}

// openAIStreamState is the per-call state held across SSE chunks of one
// streaming request.
type openAIStreamState struct {
	textOpen   bool
	textID     string
	toolIndex  map[int]string // openai tool-call index -> synthetic block id
	sentFinish bool
}

func (a *OpenAIAdapter) InvokeStream(ctx context.Context, body []byte, headers http.Header, url string) (<-chan unified.StreamEvent, error) {
	resp, err := doRequest(ctx, http.MethodPost, url, body, headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	reader, derr := decompressReader(resp)
	if derr != nil {
		resp.Body.Close()
		return nil, gatewayerr.Wrap(gatewayerr.ClassUpstreamTransient, "decompress upstream stream", derr)
	}

	out := make(chan unified.StreamEvent)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		state := &openAIStreamState{toolIndex: map[int]string{}}

		for line := range sseLines(ctx, reader) {
			for _, ev := range translateOpenAIChunk(line, state) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}

		if ctx.Err() != nil {
			emit(ctx, out, unified.StreamEvent{Kind: unified.EventAbort})
			return
		}

		if !state.sentFinish {
			emit(ctx, out, unified.StreamEvent{Kind: unified.EventFinish, FinishReason: unified.FinishStop})
		}
	}()

	return out, nil
}

func emit(ctx context.Context, out chan unified.StreamEvent, ev unified.StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func translateOpenAIChunk(line string, state *openAIStreamState) []unified.StreamEvent {
	v := gjson.Parse(line)
	choice := v.Get("choices.0")
	if !choice.Exists() {
		return nil
	}

	var events []unified.StreamEvent

	delta := choice.Get("delta")
	if toolCalls := delta.Get("tool_calls"); toolCalls.IsArray() {
		for _, tc := range toolCalls.Array() {
			idx := int(tc.Get("index").Int())
			id, seen := state.toolIndex[idx]

			if !seen {
				id = tc.Get("id").String()
				if id == "" {
					id = fmt.Sprintf("tool-%d", idx)
				}
				state.toolIndex[idx] = id
				events = append(events, unified.StreamEvent{Kind: unified.EventToolInputStart, ID: id, ToolName: tc.Get("function.name").String()})
			}

			if args := tc.Get("function.arguments"); args.Exists() && args.String() != "" {
				events = append(events, unified.StreamEvent{Kind: unified.EventToolInputDelta, ID: id, Text: args.String()})
			}
		}
	} else if text := delta.Get("content"); text.Exists() && text.String() != "" {
		if !state.textOpen {
			state.textID = "text-0"
			state.textOpen = true
			events = append(events, unified.StreamEvent{Kind: unified.EventTextStart, ID: state.textID})
		}
		events = append(events, unified.StreamEvent{Kind: unified.EventTextDelta, ID: state.textID, Text: text.String()})
	}

	if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
		if state.textOpen {
			events = append(events, unified.StreamEvent{Kind: unified.EventTextEnd, ID: state.textID})
			state.textOpen = false
		}
		for _, id := range state.toolIndex {
			events = append(events, unified.StreamEvent{Kind: unified.EventToolInputEnd, ID: id})
		}

		events = append(events, unified.StreamEvent{Kind: unified.EventFinish, FinishReason: mapOpenAIFinish(fr.String()), Usage: usageFromChunk(v)})
		state.sentFinish = true
	}

	return events
}

func usageFromChunk(v gjson.Result) *unified.Usage {
	u := v.Get("usage")
	if !u.Exists() {
		return nil
	}

	usage := &unified.Usage{
		InputTokens:  int(u.Get("prompt_tokens").Int()),
		OutputTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:  int(u.Get("total_tokens").Int()),
	}
	if c := u.Get("prompt_tokens_details.cached_tokens"); c.Exists() {
		n := int(c.Int())
		usage.CachedInputTokens = &n
	}
	if r := u.Get("completion_tokens_details.reasoning_tokens"); r.Exists() {
		n := int(r.Int())
		usage.ReasoningTokens = &n
	}
	return usage
}
