package ingress

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// Gemini translates a POST /v1beta/models/{model}:generateContent or
// :streamGenerateContent body. model and streaming are passed in separately
// because Gemini carries them in the URL rather than the body.
func Gemini(body []byte, model string, streaming bool) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, gatewayerr.New(gatewayerr.ClassInvalidRequest, "request body is not valid JSON")
	}

	if model == "" {
		return nil, gatewayerr.New(gatewayerr.ClassInvalidRequest, "model is required")
	}

	root := gjson.ParseBytes(body)
	t := &translator{}
	names := toolNameMap{}

	var msgs []unified.Message

	if si := root.Get("systemInstruction"); si.Exists() {
		msgs = append(msgs, unified.Message{Role: unified.RoleSystem, Text: t.geminiPartsText(si.Get("parts"))})
	}

	for _, c := range root.Get("contents").Array() {
		msgs = append(msgs, t.geminiContent(c, names)...)
	}

	req := &unified.UnifiedRequest{
		RequestID:       newRequestID(),
		Model:           model,
		Messages:        msgs,
		Stream:          streaming,
		IncomingDialect: unified.DialectGemini,
	}

	if tools := root.Get("tools"); tools.IsArray() {
		req.Tools = t.geminiTools(tools)
	}

	if tc := root.Get("toolConfig.functionCallingConfig"); tc.Exists() {
		req.ToolChoice = t.geminiToolChoice(tc)
	}

	if gc := root.Get("generationConfig"); gc.Exists() {
		req.Sampling = t.geminiSampling(gc)
		req.ResponseFormat = t.geminiResponseFormat(gc)
	}

	req.Warnings = t.warnings

	return &Result{Request: req, Warnings: t.warnings}, nil
}

func (t *translator) geminiPartsText(parts gjson.Result) string {
	var out string
	for _, p := range parts.Array() {
		out += p.Get("text").String()
	}
	return out
}

func (t *translator) geminiContent(c gjson.Result, names toolNameMap) []unified.Message {
	role := c.Get("role").String() // "user" | "model"

	var textParts []unified.Part
	var toolCalls []unified.Part
	var toolResults []unified.Message

	for _, p := range c.Get("parts").Array() {
		switch {
		case p.Get("text").Exists():
			textParts = append(textParts, unified.Part{Kind: unified.PartText, Text: p.Get("text").String()})

		case p.Get("inlineData").Exists():
			textParts = append(textParts, unified.Part{
				Kind:      unified.PartImageURL,
				MediaType: p.Get("inlineData.mimeType").String(),
				Data:      p.Get("inlineData.data").String(),
			})

		case p.Get("functionCall").Exists():
			name := p.Get("functionCall.name").String()
			id := "call_" + name
			names.record(id, name)
			toolCalls = append(toolCalls, unified.Part{
				Kind:       unified.PartToolCall,
				ToolCallID: id,
				ToolName:   name,
				ToolInput:  json.RawMessage(p.Get("functionCall.args").Raw),
			})

		case p.Get("functionResponse").Exists():
			name := p.Get("functionResponse.name").String()
			id := "call_" + name
			res := &unified.ToolResult{ToolCallID: id, ToolName: name}
			resp := p.Get("functionResponse.response")
			if resp.Exists() {
				var jv any
				if err := json.Unmarshal([]byte(resp.Raw), &jv); err == nil {
					res.JSONValue, res.IsJSON = jv, true
				} else {
					res.Text = resp.Raw
				}
			}
			toolResults = append(toolResults, unified.Message{Role: unified.RoleTool, ToolResult: res})

		default:
			t.warn("dropping unknown gemini part")
		}
	}

	var out []unified.Message

	if role == "model" {
		if len(textParts) > 0 || len(toolCalls) > 0 {
			out = append(out, unified.Message{Role: unified.RoleAssistant, Parts: append(textParts, toolCalls...)})
		}
	} else if len(textParts) > 0 {
		out = append(out, unified.Message{Role: unified.RoleUser, Parts: textParts})
	}

	out = append(out, toolResults...)

	return out
}

func (t *translator) geminiTools(arr gjson.Result) []unified.Tool {
	var out []unified.Tool
	for _, decl := range arr.Array() {
		for _, fn := range decl.Get("functionDeclarations").Array() {
			out = append(out, unified.Tool{
				Name:        fn.Get("name").String(),
				Description: fn.Get("description").String(),
				InputSchema: json.RawMessage(fn.Get("parameters").Raw),
			})
		}
	}
	return out
}

func (t *translator) geminiToolChoice(tc gjson.Result) *unified.ToolChoice {
	switch tc.Get("mode").String() {
	case "AUTO":
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	case "NONE":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
	case "ANY":
		if names := tc.Get("allowedFunctionNames"); names.IsArray() && len(names.Array()) == 1 {
			return &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: names.Array()[0].String()}
		}
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	default:
		return nil
	}
}

func (t *translator) geminiSampling(gc gjson.Result) *unified.Sampling {
	s := &unified.Sampling{}

	if v := gc.Get("maxOutputTokens"); v.Exists() {
		n := int(v.Int())
		s.MaxOutputTokens = &n
	}
	if v := gc.Get("temperature"); v.Exists() {
		f := v.Float()
		s.Temperature = &f
	}
	if v := gc.Get("topP"); v.Exists() {
		f := v.Float()
		s.TopP = &f
	}
	if v := gc.Get("seed"); v.Exists() {
		n := v.Int()
		s.Seed = &n
	}
	if v := gc.Get("stopSequences"); v.IsArray() {
		for _, s2 := range v.Array() {
			s.StopSequences = append(s.StopSequences, s2.String())
		}
	}

	return s
}

func (t *translator) geminiResponseFormat(gc gjson.Result) *unified.ResponseFormat {
	mime := gc.Get("responseMimeType").String()

	switch mime {
	case "application/json":
		if schema := gc.Get("responseSchema"); schema.Exists() {
			return &unified.ResponseFormat{Kind: unified.ResponseFormatJSONSchema, Schema: json.RawMessage(schema.Raw)}
		}
		return &unified.ResponseFormat{Kind: unified.ResponseFormatJSONObject}
	case "", "text/plain":
		return nil
	default:
		t.warn("unsupported responseMimeType %q, treating as text", mime)
		return nil
	}
}
