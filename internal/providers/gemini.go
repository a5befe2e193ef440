package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// GeminiAdapter implements Google's Generative Language API wire format.
type GeminiAdapter struct{}

func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) BuildRequest(req *unified.UnifiedRequest, upstreamModel string, cfg Config) ([]byte, http.Header, string, error) {
	body := `{}`

	var system strings.Builder
	contents := make([]any, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case unified.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Text)
		default:
			if c := geminiContentFromMessage(m); c != nil {
				contents = append(contents, c)
			}
		}
	}

	if system.Len() > 0 {
		body, _ = sjson.SetRaw(body, "systemInstruction", mustMarshal(map[string]any{
			"parts": []any{map[string]string{"text": system.String()}},
		}))
	}
	body, _ = sjson.SetRaw(body, "contents", mustMarshal(contents))

	if len(req.Tools) > 0 {
		decls := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  json.RawMessage(t.InputSchema),
			})
		}
		body, _ = sjson.SetRaw(body, "tools", mustMarshal([]any{
			map[string]any{"functionDeclarations": decls},
		}))
	}

	if req.ToolChoice != nil {
		mode := "AUTO"
		switch req.ToolChoice.Mode {
		case unified.ToolChoiceNone:
			mode = "NONE"
		case unified.ToolChoiceRequired, unified.ToolChoiceSpecific:
			mode = "ANY"
		}
		cfgBlock := map[string]any{"mode": mode}
		if req.ToolChoice.Mode == unified.ToolChoiceSpecific {
			cfgBlock["allowedFunctionNames"] = []string{req.ToolChoice.Name}
		}
		body, _ = sjson.SetRaw(body, "toolConfig", mustMarshal(map[string]any{"functionCallingConfig": cfgBlock}))
	}

	genConfig := map[string]any{}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Kind {
		case unified.ResponseFormatJSONObject:
			genConfig["responseMimeType"] = "application/json"
		case unified.ResponseFormatJSONSchema:
			genConfig["responseMimeType"] = "application/json"
			genConfig["responseSchema"] = json.RawMessage(rf.Schema)
		}
	}
	if s := req.Sampling; s != nil {
		if s.MaxOutputTokens != nil {
			genConfig["maxOutputTokens"] = *s.MaxOutputTokens
		}
		if s.Temperature != nil {
			genConfig["temperature"] = *s.Temperature
		}
		if s.TopP != nil {
			genConfig["topP"] = *s.TopP
		}
		if len(s.StopSequences) > 0 {
			genConfig["stopSequences"] = s.StopSequences
		}
	}
	if len(genConfig) > 0 {
		body, _ = sjson.SetRaw(body, "generationConfig", mustMarshal(genConfig))
	}

	for _, path := range stripParamPaths(cfg, upstreamModel) {
		body, _ = sjson.Delete(body, path)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	for k, v := range cfg.ExtraHeaders {
		headers.Set(k, v)
	}

	method := "generateContent"
	query := ""
	if req.Stream {
		method = "streamGenerateContent"
		query = "?alt=sse"
	}
	if cfg.APIKey != "" {
		sep := "?"
		if query != "" {
			sep = "&"
		}
		query += sep + "key=" + url.QueryEscape(cfg.APIKey)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s%s", strings.TrimRight(cfg.BaseURL, "/"), upstreamModel, method, query)

	return []byte(body), headers, endpoint, nil
}

func geminiContentFromMessage(m unified.Message) any {
	switch m.Role {
	case unified.RoleUser:
		if len(m.Parts) == 0 {
			return map[string]any{"role": "user", "parts": []any{map[string]string{"text": m.Text}}}
		}
		return map[string]any{"role": "user", "parts": geminiParts(m.Parts)}

	case unified.RoleAssistant:
		return map[string]any{"role": "model", "parts": geminiParts(m.Parts)}

	case unified.RoleTool:
		tr := m.ToolResult
		var response any = map[string]string{"result": tr.Text}
		if tr.IsJSON {
			response = tr.JSONValue
		}
		return map[string]any{
			"role": "user",
			"parts": []any{map[string]any{
				"functionResponse": map[string]any{"name": tr.ToolName, "response": response},
			}},
		}

	default:
		return nil
	}
}

func geminiParts(parts []unified.Part) []any {
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case unified.PartText:
			out = append(out, map[string]string{"text": p.Text})
		case unified.PartImageURL:
			out = append(out, map[string]any{"inlineData": map[string]string{"mimeType": p.MediaType, "data": p.Data}})
		case unified.PartToolCall:
			var args any
			_ = json.Unmarshal(p.ToolInput, &args)
			out = append(out, map[string]any{"functionCall": map[string]any{"name": p.ToolName, "args": args}})
		}
	}
	return out
}

func (a *GeminiAdapter) Invoke(ctx context.Context, body []byte, headers http.Header, reqURL string) (*unified.UnifiedResponse, error) {
	resp, err := doRequest(ctx, http.MethodPost, reqURL, body, headers)
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
		return nil, attachGeminiMessage(err, raw)
	}

	return parseGeminiResponse(raw)
}

func attachGeminiMessage(err error, raw []byte) error {
	ge, ok := gatewayerr.As(err)
	if !ok {
		return err
	}
	if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
		ge.Message = msg
	}
	return ge
}

func parseGeminiResponse(raw []byte) (*unified.UnifiedResponse, error) {
	v := gjson.ParseBytes(raw)

	candidate := v.Get("candidates.0")
	if !candidate.Exists() {
		return nil, gatewayerr.New(gatewayerr.ClassUpstreamInvalid, "no candidates in upstream response")
	}

	var content []unified.Part
	for _, p := range candidate.Get("content.parts").Array() {
		if text := p.Get("text"); text.Exists() {
			content = append(content, unified.Part{Kind: unified.PartText, Text: text.String()})
			continue
		}
		if fc := p.Get("functionCall"); fc.Exists() {
			content = append(content, unified.Part{
				Kind:      unified.PartToolCall,
				ToolName:  fc.Get("name").String(),
				ToolInput: json.RawMessage(fc.Get("args").Raw),
			})
		}
	}

	usage := unified.Usage{
		InputTokens:  int(v.Get("usageMetadata.promptTokenCount").Int()),
		OutputTokens: int(v.Get("usageMetadata.candidatesTokenCount").Int()),
		TotalTokens:  int(v.Get("usageMetadata.totalTokenCount").Int()),
	}
	if cached := v.Get("usageMetadata.cachedContentTokenCount"); cached.Exists() {
		n := int(cached.Int())
		usage.CachedInputTokens = &n
	}

	return &unified.UnifiedResponse{
		FinishReason: mapGeminiFinish(candidate.Get("finishReason").String()),
		Content:      content,
		Usage:        usage,
	}, nil
}

func mapGeminiFinish(reason string) unified.FinishReason {
	switch reason {
	case "STOP":
		return unified.FinishStop
	case "MAX_TOKENS":
		return unified.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return unified.FinishContentFilter
	case "":
		return unified.FinishOther
	default:
		return unified.FinishOther
	}
}

type geminiStreamState struct {
	textOpen   bool
	sentFinish bool
	toolSeq    int
}

func (a *GeminiAdapter) InvokeStream(ctx context.Context, body []byte, headers http.Header, reqURL string) (<-chan unified.StreamEvent, error) {
	resp, err := doRequest(ctx, http.MethodPost, reqURL, body, headers)
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

		state := &geminiStreamState{}

		for line := range sseLines(ctx, reader) {
			for _, ev := range translateGeminiChunk(line, state) {
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

func translateGeminiChunk(line string, state *geminiStreamState) []unified.StreamEvent {
	v := gjson.Parse(line)
	candidate := v.Get("candidates.0")
	if !candidate.Exists() {
		return nil
	}

	var events []unified.StreamEvent

	for _, p := range candidate.Get("content.parts").Array() {
		if text := p.Get("text"); text.Exists() && text.String() != "" {
			if !state.textOpen {
				state.textOpen = true
				events = append(events, unified.StreamEvent{Kind: unified.EventTextStart, ID: "text-0"})
			}
			events = append(events, unified.StreamEvent{Kind: unified.EventTextDelta, ID: "text-0", Text: text.String()})
		}
		if fc := p.Get("functionCall"); fc.Exists() {
			id := fmt.Sprintf("tool-%d", state.toolSeq)
			state.toolSeq++
			events = append(events,
				unified.StreamEvent{Kind: unified.EventToolInputStart, ID: id, ToolName: fc.Get("name").String()},
				unified.StreamEvent{Kind: unified.EventToolInputDelta, ID: id, Text: fc.Get("args").Raw},
				unified.StreamEvent{Kind: unified.EventToolInputEnd, ID: id},
			)
		}
	}

	if reason := candidate.Get("finishReason"); reason.Exists() && reason.String() != "" {
		if state.textOpen {
			events = append(events, unified.StreamEvent{Kind: unified.EventTextEnd, ID: "text-0"})
			state.textOpen = false
		}

		usage := &unified.Usage{
			InputTokens:  int(v.Get("usageMetadata.promptTokenCount").Int()),
			OutputTokens: int(v.Get("usageMetadata.candidatesTokenCount").Int()),
			TotalTokens:  int(v.Get("usageMetadata.totalTokenCount").Int()),
		}
		events = append(events, unified.StreamEvent{Kind: unified.EventFinish, FinishReason: mapGeminiFinish(reason.String()), Usage: usage})
		state.sentFinish = true
	}

	return events
}
