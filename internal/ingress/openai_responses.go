package ingress

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// OpenAIResponses translates a POST /v1/responses body. The Responses API's
// item-oriented "input" (a string, or an ordered list of message/
// reasoning/function_call/function_call_output items) is flattened into the
// same Message sequence the Chat ingress produces.
func OpenAIResponses(body []byte) (*Result, error) {
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

	if instr := root.Get("instructions"); instr.Exists() {
		msgs = append(msgs, unified.Message{Role: unified.RoleSystem, Text: instr.String()})
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		msgs = append(msgs, unified.Message{Role: unified.RoleUser, Text: input.String()})
	} else {
		for _, item := range input.Array() {
			if msg := t.responsesItem(item, names); msg != nil {
				msgs = append(msgs, *msg)
			}
		}
	}

	req := &unified.UnifiedRequest{
		RequestID:       newRequestID(),
		Model:           model,
		Messages:        msgs,
		Stream:          root.Get("stream").Bool(),
		IncomingDialect: unified.DialectOpenAIResponses,
	}

	if tools := root.Get("tools"); tools.IsArray() {
		req.Tools = t.responsesTools(tools)
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		req.ToolChoice = t.responsesToolChoice(tc)
	}

	if tf := root.Get("text.format"); tf.Exists() {
		req.ResponseFormat = t.responsesFormat(tf)
	}

	req.Sampling = t.responsesSampling(root)
	req.Warnings = t.warnings

	return &Result{Request: req, Warnings: t.warnings}, nil
}

// responsesItem flattens one input item into a Message, or nil if the item
// type is unrecognized (dropped with a warning).
func (t *translator) responsesItem(item gjson.Result, names toolNameMap) *unified.Message {
	itemType := item.Get("type").String()

	// A bare message item (no "type", or type == "message") carries role+content.
	if itemType == "" || itemType == "message" {
		role := item.Get("role").String()
		content := item.Get("content")

		var parts []unified.Part
		if content.Type == gjson.String {
			parts = append(parts, unified.Part{Kind: unified.PartText, Text: content.String()})
		} else {
			for _, c := range content.Array() {
				switch c.Get("type").String() {
				case "input_text", "output_text":
					parts = append(parts, unified.Part{Kind: unified.PartText, Text: c.Get("text").String()})
				case "input_image":
					if mt, data, ok := dataURI(c.Get("image_url").String()); ok {
						parts = append(parts, unified.Part{Kind: unified.PartImageURL, MediaType: mt, Data: data})
					} else {
						parts = append(parts, unified.Part{Kind: unified.PartImageURL, URL: c.Get("image_url").String()})
					}
				case "input_file":
					parts = append(parts, unified.Part{Kind: unified.PartFile, Filename: c.Get("filename").String(), URL: c.Get("file_id").String()})
				default:
					t.warn("dropping unknown responses content part type %q", c.Get("type").String())
				}
			}
		}

		switch role {
		case "system", "developer":
			var text string
			for _, p := range parts {
				text += p.Text
			}
			return &unified.Message{Role: unified.RoleSystem, Text: text}
		case "assistant":
			return &unified.Message{Role: unified.RoleAssistant, Parts: parts}
		default:
			return &unified.Message{Role: unified.RoleUser, Parts: parts}
		}
	}

	switch itemType {
	case "reasoning":
		text := ""
		for _, s := range item.Get("summary").Array() {
			text += s.Get("text").String()
		}
		return &unified.Message{Role: unified.RoleAssistant, Parts: []unified.Part{{Kind: unified.PartReasoning, Text: text}}}

	case "function_call":
		id := item.Get("call_id").String()
		name := item.Get("name").String()
		names.record(id, name)
		return &unified.Message{Role: unified.RoleAssistant, Parts: []unified.Part{{
			Kind:       unified.PartToolCall,
			ToolCallID: id,
			ToolName:   name,
			ToolInput:  json.RawMessage(item.Get("arguments").Raw),
		}}}

	case "function_call_output":
		id := item.Get("call_id").String()
		output := item.Get("output").String()
		res := &unified.ToolResult{ToolCallID: id, ToolName: names.resolve(id)}

		var jv any
		if err := json.Unmarshal([]byte(output), &jv); err == nil {
			res.JSONValue, res.IsJSON = jv, true
		} else {
			res.Text = output
		}
		return &unified.Message{Role: unified.RoleTool, ToolResult: res}

	default:
		t.warn("dropping unknown responses item type %q", itemType)
		return nil
	}
}

func (t *translator) responsesTools(arr gjson.Result) []unified.Tool {
	var out []unified.Tool
	for _, tool := range arr.Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		out = append(out, unified.Tool{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			InputSchema: json.RawMessage(tool.Get("parameters").Raw),
		})
	}
	return out
}

func (t *translator) responsesToolChoice(tc gjson.Result) *unified.ToolChoice {
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
		return &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: tc.Get("name").String()}
	}

	return nil
}

func (t *translator) responsesFormat(tf gjson.Result) *unified.ResponseFormat {
	switch tf.Get("type").String() {
	case "json_object":
		return &unified.ResponseFormat{Kind: unified.ResponseFormatJSONObject}
	case "json_schema":
		return &unified.ResponseFormat{
			Kind:        unified.ResponseFormatJSONSchema,
			Schema:      json.RawMessage(tf.Get("schema").Raw),
			Name:        tf.Get("name").String(),
			Strict:      tf.Get("strict").Bool(),
		}
	default:
		return &unified.ResponseFormat{Kind: unified.ResponseFormatText}
	}
}

func (t *translator) responsesSampling(root gjson.Result) *unified.Sampling {
	s := &unified.Sampling{}

	if v := root.Get("max_output_tokens"); v.Exists() {
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

	return s
}
