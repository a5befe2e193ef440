package ingress

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// OpenAIChat translates a POST /v1/chat/completions body.
func OpenAIChat(body []byte) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, gatewayerr.New(gatewayerr.ClassInvalidRequest, "request body is not valid JSON")
	}

	root := gjson.ParseBytes(body)

	model := root.Get("model").String()
	if model == "" {
		return nil, gatewayerr.New(gatewayerr.ClassInvalidRequest, "model is required")
	}

	t := &translator{}
	names := toolNameMap{}

	messages, err := t.chatMessages(root.Get("messages"), names)
	if err != nil {
		return nil, err
	}

	req := &unified.UnifiedRequest{
		RequestID:       newRequestID(),
		Model:           model,
		Messages:        messages,
		Stream:          root.Get("stream").Bool(),
		IncomingDialect: unified.DialectOpenAIChat,
	}

	if tools := root.Get("tools"); tools.IsArray() {
		req.Tools = t.chatTools(tools)
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		req.ToolChoice = t.chatToolChoice(tc)
	}

	if rf := root.Get("response_format"); rf.Exists() {
		req.ResponseFormat = t.chatResponseFormat(rf)
	}

	req.Sampling = t.chatSampling(root)
	req.Warnings = t.warnings

	return &Result{Request: req, Warnings: t.warnings}, nil
}

func (t *translator) chatMessages(arr gjson.Result, names toolNameMap) ([]unified.Message, error) {
	if !arr.IsArray() {
		return nil, gatewayerr.New(gatewayerr.ClassInvalidRequest, "messages must be an array")
	}

	var out []unified.Message

	for _, m := range arr.Array() {
		role := m.Get("role").String()

		switch role {
		case "system", "developer":
			if role == "developer" {
				t.warn("developer role collapsed into system")
			}
			out = append(out, unified.Message{Role: unified.RoleSystem, Text: m.Get("content").String()})

		case "user":
			msg, err := t.chatUserMessage(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)

		case "assistant":
			out = append(out, t.chatAssistantMessage(m, names))

		case "tool":
			out = append(out, t.chatToolMessage(m, names))

		default:
			t.warn("dropping message with unknown role %q", role)
		}
	}

	return out, nil
}

func (t *translator) chatUserMessage(m gjson.Result) (unified.Message, error) {
	content := m.Get("content")

	if content.Type == gjson.String {
		return unified.Message{Role: unified.RoleUser, Text: content.String()}, nil
	}

	if !content.IsArray() {
		return unified.Message{Role: unified.RoleUser}, nil
	}

	var parts []unified.Part

	for _, p := range content.Array() {
		switch p.Get("type").String() {
		case "text":
			parts = append(parts, unified.Part{Kind: unified.PartText, Text: p.Get("text").String()})

		case "image_url":
			url := p.Get("image_url.url").String()
			if mt, data, ok := dataURI(url); ok {
				parts = append(parts, unified.Part{Kind: unified.PartImageURL, MediaType: mt, Data: data})
			} else {
				parts = append(parts, unified.Part{Kind: unified.PartImageURL, URL: url})
			}

		case "input_audio":
			parts = append(parts, unified.Part{
				Kind:   unified.PartAudio,
				Format: p.Get("input_audio.format").String(),
				Data:   p.Get("input_audio.data").String(),
			})

		case "file":
			part := unified.Part{Kind: unified.PartFile}
			if fid := p.Get("file.file_id"); fid.Exists() {
				part.URL = fid.String()
			} else {
				part.Filename = p.Get("file.filename").String()
				if mt, data, ok := dataURI(p.Get("file.file_data").String()); ok {
					part.MediaType, part.Data = mt, data
				} else {
					part.Data = p.Get("file.file_data").String()
				}
			}
			parts = append(parts, part)

		default:
			t.warn("dropping unknown user content part type %q", p.Get("type").String())
		}
	}

	return unified.Message{Role: unified.RoleUser, Parts: parts}, nil
}

func (t *translator) chatAssistantMessage(m gjson.Result, names toolNameMap) unified.Message {
	var parts []unified.Part

	if text := m.Get("content"); text.Type == gjson.String && text.String() != "" {
		parts = append(parts, unified.Part{Kind: unified.PartText, Text: text.String()})
	}

	for _, tc := range m.Get("tool_calls").Array() {
		id := tc.Get("id").String()
		name := tc.Get("function.name").String()
		argsStr := tc.Get("function.arguments").String()

		names.record(id, name)

		input := json.RawMessage(argsStr)
		if !json.Valid(input) {
			t.warn("assistant tool_call %s arguments were not valid JSON", id)
			raw, _ := json.Marshal(map[string]string{"_raw": argsStr})
			input = raw
		}

		parts = append(parts, unified.Part{
			Kind:       unified.PartToolCall,
			ToolCallID: id,
			ToolName:   name,
			ToolInput:  input,
		})
	}

	return unified.Message{Role: unified.RoleAssistant, Parts: parts}
}

func (t *translator) chatToolMessage(m gjson.Result, names toolNameMap) unified.Message {
	id := m.Get("tool_call_id").String()
	content := m.Get("content").String()

	result := &unified.ToolResult{
		ToolCallID: id,
		ToolName:   names.resolve(id),
	}

	var jv any
	if err := json.Unmarshal([]byte(content), &jv); err == nil {
		result.JSONValue, result.IsJSON = jv, true
	} else {
		result.Text = content
	}

	return unified.Message{Role: unified.RoleTool, ToolResult: result}
}

func (t *translator) chatTools(arr gjson.Result) []unified.Tool {
	var out []unified.Tool

	for _, tool := range arr.Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		out = append(out, unified.Tool{
			Name:        tool.Get("function.name").String(),
			Description: tool.Get("function.description").String(),
			InputSchema: json.RawMessage(tool.Get("function.parameters").Raw),
		})
	}

	return out
}

func (t *translator) chatToolChoice(tc gjson.Result) *unified.ToolChoice {
	if tc.Type == gjson.String {
		switch tc.String() {
		case "auto":
			return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
		case "none":
			return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
		case "required":
			return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
		}
		return nil
	}

	if tc.Get("type").String() == "function" {
		return &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: tc.Get("function.name").String()}
	}

	return nil
}

func (t *translator) chatResponseFormat(rf gjson.Result) *unified.ResponseFormat {
	switch rf.Get("type").String() {
	case "json_object":
		return &unified.ResponseFormat{Kind: unified.ResponseFormatJSONObject}
	case "json_schema":
		return &unified.ResponseFormat{
			Kind:        unified.ResponseFormatJSONSchema,
			Schema:      json.RawMessage(rf.Get("json_schema.schema").Raw),
			Name:        rf.Get("json_schema.name").String(),
			Description: rf.Get("json_schema.description").String(),
			Strict:      rf.Get("json_schema.strict").Bool(),
		}
	default:
		return &unified.ResponseFormat{Kind: unified.ResponseFormatText}
	}
}

func (t *translator) chatSampling(root gjson.Result) *unified.Sampling {
	s := &unified.Sampling{}
	has := false

	if v := root.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		s.MaxOutputTokens = &n
		has = true
	} else if v := root.Get("max_completion_tokens"); v.Exists() {
		n := int(v.Int())
		s.MaxOutputTokens = &n
		has = true
	}

	if v := root.Get("temperature"); v.Exists() {
		f := v.Float()
		s.Temperature = &f
		has = true
	}

	if v := root.Get("top_p"); v.Exists() {
		f := v.Float()
		s.TopP = &f
		has = true
	}

	if v := root.Get("frequency_penalty"); v.Exists() {
		f := v.Float()
		s.FrequencyPenalty = &f
		has = true
	}

	if v := root.Get("presence_penalty"); v.Exists() {
		f := v.Float()
		s.PresencePenalty = &f
		has = true
	}

	if v := root.Get("seed"); v.Exists() {
		n := v.Int()
		s.Seed = &n
		has = true
	}

	if v := root.Get("stop"); v.Exists() {
		if v.IsArray() {
			for _, s2 := range v.Array() {
				s.StopSequences = append(s.StopSequences, s2.String())
			}
		} else {
			s.StopSequences = []string{v.String()}
		}
		has = true
	}

	if !has {
		return nil
	}

	return s
}
