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

// AnthropicAdapter implements the native Anthropic Messages wire format.
type AnthropicAdapter struct{}

func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

const anthropicDefaultMaxTokens = 4096

func (a *AnthropicAdapter) BuildRequest(req *unified.UnifiedRequest, upstreamModel string, cfg Config) ([]byte, http.Header, string, error) {
	body := `{}`
	body, _ = sjson.Set(body, "model", upstreamModel)
	body, _ = sjson.Set(body, "stream", req.Stream)
	body, _ = sjson.Set(body, "max_tokens", anthropicDefaultMaxTokens)

	var system strings.Builder
	messages := make([]any, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case unified.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Text)
		default:
			if msg := anthropicMessage(m); msg != nil {
				messages = append(messages, msg)
			}
		}
	}

	if system.Len() > 0 {
		body, _ = sjson.Set(body, "system", system.String())
	}
	body, _ = sjson.SetRaw(body, "messages", mustMarshal(messages))

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": json.RawMessage(t.InputSchema),
			})
		}
		body, _ = sjson.SetRaw(body, "tools", mustMarshal(tools))
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case unified.ToolChoiceAuto:
			body, _ = sjson.SetRaw(body, "tool_choice", `{"type":"auto"}`)
		case unified.ToolChoiceNone:
			body, _ = sjson.SetRaw(body, "tool_choice", `{"type":"none"}`)
		case unified.ToolChoiceRequired:
			body, _ = sjson.SetRaw(body, "tool_choice", `{"type":"any"}`)
		case unified.ToolChoiceSpecific:
			body, _ = sjson.SetRaw(body, "tool_choice", mustMarshal(map[string]string{"type": "tool", "name": req.ToolChoice.Name}))
		}
	}

	if s := req.Sampling; s != nil {
		if s.MaxOutputTokens != nil {
			body, _ = sjson.Set(body, "max_tokens", *s.MaxOutputTokens)
		}
		if s.Temperature != nil {
			body, _ = sjson.Set(body, "temperature", *s.Temperature)
		}
		if s.TopP != nil {
			body, _ = sjson.Set(body, "top_p", *s.TopP)
		}
		if len(s.StopSequences) > 0 {
			body, _ = sjson.SetRaw(body, "stop_sequences", mustMarshal(s.StopSequences))
		}
	}

	for _, path := range stripParamPaths(cfg, upstreamModel) {
		body, _ = sjson.Delete(body, path)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("anthropic-version", "2023-06-01")
	if cfg.APIKey != "" {
		headers.Set("x-api-key", cfg.APIKey)
	}
	for k, v := range cfg.ExtraHeaders {
		headers.Set(k, v)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages"

	return []byte(body), headers, url, nil
}

func anthropicMessage(m unified.Message) any {
	switch m.Role {
	case unified.RoleUser:
		if len(m.Parts) == 0 {
			return map[string]any{"role": "user", "content": m.Text}
		}
		return map[string]any{"role": "user", "content": anthropicContentBlocks(m.Parts)}

	case unified.RoleAssistant:
		return map[string]any{"role": "assistant", "content": anthropicContentBlocks(m.Parts)}

	case unified.RoleTool:
		tr := m.ToolResult
		content := tr.Text
		if tr.IsJSON {
			if b, err := json.Marshal(tr.JSONValue); err == nil {
				content = string(b)
			}
		}
		return map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": tr.ToolCallID, "content": content},
			},
		}

	default:
		return nil
	}
}

func anthropicContentBlocks(parts []unified.Part) []any {
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case unified.PartText:
			out = append(out, map[string]any{"type": "text", "text": p.Text})
		case unified.PartImageURL:
			if p.Data != "" {
				out = append(out, map[string]any{"type": "image", "source": map[string]string{"type": "base64", "media_type": p.MediaType, "data": p.Data}})
			} else {
				out = append(out, map[string]any{"type": "image", "source": map[string]string{"type": "url", "url": p.URL}})
			}
		case unified.PartToolCall:
			var input any
			_ = json.Unmarshal(p.ToolInput, &input)
			out = append(out, map[string]any{"type": "tool_use", "id": p.ToolCallID, "name": p.ToolName, "input": input})
		}
	}
	return out
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, body []byte, headers http.Header, url string) (*unified.UnifiedResponse, error) {
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
		return nil, attachAnthropicMessage(err, raw)
	}

	return parseAnthropicResponse(raw)
}

func attachAnthropicMessage(err error, raw []byte) error {
	ge, ok := gatewayerr.As(err)
	if !ok {
		return err
	}
	if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
		ge.Message = msg
	}
	return ge
}

func parseAnthropicResponse(raw []byte) (*unified.UnifiedResponse, error) {
	v := gjson.ParseBytes(raw)

	var content []unified.Part
	for _, block := range v.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			content = append(content, unified.Part{Kind: unified.PartText, Text: block.Get("text").String()})
		case "tool_use":
			content = append(content, unified.Part{
				Kind:       unified.PartToolCall,
				ToolCallID: block.Get("id").String(),
				ToolName:   block.Get("name").String(),
				ToolInput:  json.RawMessage(block.Get("input").Raw),
			})
		}
	}

	usage := unified.Usage{
		InputTokens:  int(v.Get("usage.input_tokens").Int()),
		OutputTokens: int(v.Get("usage.output_tokens").Int()),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if cached := v.Get("usage.cache_read_input_tokens"); cached.Exists() {
		n := int(cached.Int())
		usage.CachedInputTokens = &n
	}

	return &unified.UnifiedResponse{
		FinishReason:  mapAnthropicStop(v.Get("stop_reason").String()),
		Content:       content,
		Usage:         usage,
		ProviderModel: v.Get("model").String(),
	}, nil
}

func mapAnthropicStop(reason string) unified.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return unified.FinishStop
	case "max_tokens":
		return unified.FinishLength
	case "tool_use":
		return unified.FinishToolCalls
	default:
		return unified.FinishOther
	}
}

// anthropicStreamState tracks content-block identities across SSE events so
// deltas can be attributed to the right synthetic block id.
type anthropicStreamState struct {
	blockKind map[int]string // index -> "text" | "tool_use"
	blockID   map[int]string
	usage     unified.Usage
}

func (a *AnthropicAdapter) InvokeStream(ctx context.Context, body []byte, headers http.Header, url string) (<-chan unified.StreamEvent, error) {
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

		state := &anthropicStreamState{blockKind: map[int]string{}, blockID: map[int]string{}}

		for line := range sseLines(ctx, reader) {
			for _, ev := range translateAnthropicChunk(line, state) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}

		if ctx.Err() != nil {
			emit(ctx, out, unified.StreamEvent{Kind: unified.EventAbort})
		}
	}()

	return out, nil
}

func translateAnthropicChunk(line string, state *anthropicStreamState) []unified.StreamEvent {
	v := gjson.Parse(line)

	switch v.Get("type").String() {
	case "message_start":
		if in := v.Get("message.usage.input_tokens"); in.Exists() {
			state.usage.InputTokens = int(in.Int())
			state.usage.TotalTokens = state.usage.InputTokens + state.usage.OutputTokens
			usage := state.usage
			return []unified.StreamEvent{{Kind: unified.EventStart, Usage: &usage}}
		}

	case "content_block_start":
		idx := int(v.Get("index").Int())
		block := v.Get("content_block")
		kind := block.Get("type").String()
		state.blockKind[idx] = kind

		switch kind {
		case "text":
			id := blockID(idx)
			state.blockID[idx] = id
			return []unified.StreamEvent{{Kind: unified.EventTextStart, ID: id}}
		case "tool_use":
			id := block.Get("id").String()
			state.blockID[idx] = id
			return []unified.StreamEvent{{Kind: unified.EventToolInputStart, ID: id, ToolName: block.Get("name").String()}}
		}

	case "content_block_delta":
		idx := int(v.Get("index").Int())
		id := state.blockID[idx]
		delta := v.Get("delta")

		switch delta.Get("type").String() {
		case "text_delta":
			return []unified.StreamEvent{{Kind: unified.EventTextDelta, ID: id, Text: delta.Get("text").String()}}
		case "input_json_delta":
			return []unified.StreamEvent{{Kind: unified.EventToolInputDelta, ID: id, Text: delta.Get("partial_json").String()}}
		}

	case "content_block_stop":
		idx := int(v.Get("index").Int())
		id := state.blockID[idx]
		if state.blockKind[idx] == "tool_use" {
			return []unified.StreamEvent{{Kind: unified.EventToolInputEnd, ID: id}}
		}
		return []unified.StreamEvent{{Kind: unified.EventTextEnd, ID: id}}

	case "message_delta":
		if in := v.Get("usage.input_tokens"); in.Exists() {
			state.usage.InputTokens = int(in.Int())
		}
		if out := v.Get("usage.output_tokens"); out.Exists() {
			state.usage.OutputTokens = int(out.Int())
		}
		state.usage.TotalTokens = state.usage.InputTokens + state.usage.OutputTokens

		if reason := v.Get("delta.stop_reason"); reason.Exists() {
			usage := state.usage
			return []unified.StreamEvent{{Kind: unified.EventFinish, FinishReason: mapAnthropicStop(reason.String()), Usage: &usage}}
		}
	}

	return nil
}

func blockID(idx int) string {
	return fmt.Sprintf("text-%d", idx)
}
