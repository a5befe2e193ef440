package ingress

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// Anthropic translates a POST /v1/messages body.
func Anthropic(body []byte) (*Result, error) {
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

	var msgs []unified.Message

	if system := root.Get("system"); system.Exists() {
		msgs = append(msgs, t.anthropicSystem(system)...)
	}

	for _, m := range root.Get("messages").Array() {
		msgs = append(msgs, t.anthropicMessage(m, names)...)
	}

	req := &unified.UnifiedRequest{
		RequestID:       newRequestID(),
		Model:           model,
		Messages:        msgs,
		Stream:          root.Get("stream").Bool(),
		IncomingDialect: unified.DialectAnthropic,
	}

	if tools := root.Get("tools"); tools.IsArray() {
		req.Tools = t.anthropicTools(tools)
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		req.ToolChoice = t.anthropicToolChoice(tc)
	}

	req.Sampling = t.anthropicSampling(root)
	req.Warnings = t.warnings

	return &Result{Request: req, Warnings: t.warnings}, nil
}

func (t *translator) anthropicSystem(system gjson.Result) []unified.Message {
	if system.Type == gjson.String {
		return []unified.Message{{Role: unified.RoleSystem, Text: system.String()}}
	}

	var out []unified.Message
	for _, block := range system.Array() {
		if block.Get("type").String() == "text" {
			out = append(out, unified.Message{Role: unified.RoleSystem, Text: block.Get("text").String()})
		}
	}
	return out
}

func (t *translator) anthropicMessage(m gjson.Result, names toolNameMap) []unified.Message {
	role := m.Get("role").String()
	content := m.Get("content")

	switch role {
	case "user":
		return t.anthropicUserOrToolResult(content, names)
	case "assistant":
		return []unified.Message{t.anthropicAssistant(content, names)}
	default:
		t.warn("dropping message with unknown role %q", role)
		return nil
	}
}

// anthropicUserOrToolResult handles a user message whose content may mix
// plain text/image parts with tool_result blocks. Anthropic allows
// tool_result blocks to live inside a "user" message; a mixed turn is not
// representable as one Message, so each tool_result becomes its own Tool
// message and the remaining parts follow as one User message. A
// tool_result-only turn yields Tool messages only.
func (t *translator) anthropicUserOrToolResult(content gjson.Result, names toolNameMap) []unified.Message {
	if content.Type == gjson.String {
		return []unified.Message{{Role: unified.RoleUser, Text: content.String()}}
	}

	var parts []unified.Part
	var out []unified.Message

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, unified.Part{Kind: unified.PartText, Text: block.Get("text").String()})

		case "image":
			src := block.Get("source")
			if src.Get("type").String() == "base64" {
				parts = append(parts, unified.Part{
					Kind:      unified.PartImageURL,
					MediaType: src.Get("media_type").String(),
					Data:      src.Get("data").String(),
				})
			} else {
				parts = append(parts, unified.Part{Kind: unified.PartImageURL, URL: src.Get("url").String()})
			}

		case "tool_result":
			id := block.Get("tool_use_id").String()
			res := &unified.ToolResult{ToolCallID: id, ToolName: names.resolve(id)}

			resContent := block.Get("content")
			if resContent.Type == gjson.String {
				res.Text = resContent.String()
			} else if resContent.IsArray() {
				var sb string
				for _, b := range resContent.Array() {
					if b.Get("type").String() == "text" {
						sb += b.Get("text").String()
					}
				}
				res.Text = sb
			}

			if res.Text != "" {
				var jv any
				if err := json.Unmarshal([]byte(res.Text), &jv); err == nil {
					res.JSONValue, res.IsJSON = jv, true
				}
			}

			out = append(out, unified.Message{Role: unified.RoleTool, ToolResult: res})

		default:
			t.warn("dropping unknown user content block type %q", block.Get("type").String())
		}
	}

	if len(parts) > 0 || len(out) == 0 {
		out = append(out, unified.Message{Role: unified.RoleUser, Parts: parts})
	}
	return out
}

func (t *translator) anthropicAssistant(content gjson.Result, names toolNameMap) unified.Message {
	if content.Type == gjson.String {
		return unified.Message{Role: unified.RoleAssistant, Parts: []unified.Part{{Kind: unified.PartText, Text: content.String()}}}
	}

	var parts []unified.Part

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, unified.Part{Kind: unified.PartText, Text: block.Get("text").String()})

		case "thinking":
			parts = append(parts, unified.Part{Kind: unified.PartReasoning, Text: block.Get("thinking").String()})

		case "tool_use":
			id := block.Get("id").String()
			name := block.Get("name").String()
			names.record(id, name)

			parts = append(parts, unified.Part{
				Kind:       unified.PartToolCall,
				ToolCallID: id,
				ToolName:   name,
				ToolInput:  json.RawMessage(block.Get("input").Raw),
			})

		default:
			t.warn("dropping unknown assistant content block type %q", block.Get("type").String())
		}
	}

	return unified.Message{Role: unified.RoleAssistant, Parts: parts}
}

func (t *translator) anthropicTools(arr gjson.Result) []unified.Tool {
	var out []unified.Tool
	for _, tool := range arr.Array() {
		out = append(out, unified.Tool{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			InputSchema: json.RawMessage(tool.Get("input_schema").Raw),
		})
	}
	return out
}

func (t *translator) anthropicToolChoice(tc gjson.Result) *unified.ToolChoice {
	switch tc.Get("type").String() {
	case "auto":
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	case "any":
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	case "tool":
		return &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: tc.Get("name").String()}
	case "none":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
	default:
		return nil
	}
}

func (t *translator) anthropicSampling(root gjson.Result) *unified.Sampling {
	s := &unified.Sampling{}

	if v := root.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		s.MaxOutputTokens = &n
	}
	if v := root.Get("temperature"); v.Exists() {
		f := v.Float()
		s.Temperature = &f
	}
	if v := root.Get("top_p"); v.Exists() {
		f := v.Float()
		s.TopP = &f
	}
	if v := root.Get("stop_sequences"); v.IsArray() {
		for _, s2 := range v.Array() {
			s.StopSequences = append(s.StopSequences, s2.String())
		}
	}

	return s
}
