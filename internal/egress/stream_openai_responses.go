package egress

import (
	"github.com/google/uuid"

	"github.com/Davincible/plexus/internal/unified"
)

type responsesItem struct {
	outputIndex int
	itemID      string
	kind        string // "message" | "function_call" | "reasoning"
	callID      string
	name        string
	accText     string
	accArgs     string
}

// OpenAIResponsesStream is the stateful transducer from neutral
// StreamEvents to OpenAI Responses API SSE events (spec.md §4.7).
type OpenAIResponsesStream struct {
	responseID      string
	createdAt       int64
	model           string
	nextOutputIndex int
	items           map[string]*responsesItem
	sentCreated     bool
	sentCompleted   bool
}

func NewOpenAIResponsesStream(model string) *OpenAIResponsesStream {
	return &OpenAIResponsesStream{
		responseID: "resp_" + uuid.NewString(),
		createdAt:  nowUnix(),
		model:      model,
		items:      make(map[string]*responsesItem),
	}
}

func (s *OpenAIResponsesStream) Translate(ev unified.StreamEvent) []Frame {
	var frames []Frame

	if !s.sentCreated {
		s.sentCreated = true
		frames = append(frames, Frame{Name: "response.created", Data: map[string]any{
			"type": "response.created",
			"response": map[string]any{
				"id":      s.responseID,
				"object":  "response",
				"created": s.createdAt,
				"model":   s.model,
				"status":  "in_progress",
			},
		}})
	}

	switch ev.Kind {
	case unified.EventTextStart:
		frames = append(frames, s.itemAdded(ev.ID, "message", "", ""))

	case unified.EventReasoningStart:
		frames = append(frames, s.itemAdded(ev.ID, "reasoning", "", ""))

	case unified.EventToolInputStart:
		frames = append(frames, s.itemAdded(ev.ID, "function_call", ev.ID, ev.ToolName))

	case unified.EventTextDelta:
		item := s.items[ev.ID]
		if item != nil {
			item.accText += ev.Text
			frames = append(frames, Frame{Name: "response.output_text.delta", Data: map[string]any{
				"type":         "response.output_text.delta",
				"item_id":      item.itemID,
				"output_index": item.outputIndex,
				"delta":        ev.Text,
			}})
		}

	case unified.EventReasoningDelta:
		item := s.items[ev.ID]
		if item != nil {
			item.accText += ev.Text
			frames = append(frames, Frame{Name: "response.reasoning_summary_text.delta", Data: map[string]any{
				"type":         "response.reasoning_summary_text.delta",
				"item_id":      item.itemID,
				"output_index": item.outputIndex,
				"delta":        ev.Text,
			}})
		}

	case unified.EventToolInputDelta:
		item := s.items[ev.ID]
		if item != nil {
			item.accArgs += ev.Text
			frames = append(frames, Frame{Name: "response.function_call_arguments.delta", Data: map[string]any{
				"type":         "response.function_call_arguments.delta",
				"item_id":      item.itemID,
				"output_index": item.outputIndex,
				"delta":        ev.Text,
			}})
		}

	case unified.EventTextEnd, unified.EventReasoningEnd, unified.EventToolInputEnd:
		frames = append(frames, s.itemDone(ev.ID))

	case unified.EventFinish:
		frames = append(frames, s.completed(ev.FinishReason, ev.Usage)...)

	case unified.EventError, unified.EventAbort:
		frames = append(frames, s.completed(unified.FinishError, nil)...)
	}

	return frames
}

func (s *OpenAIResponsesStream) itemAdded(neutralID, kind, callID, name string) Frame {
	item := &responsesItem{
		outputIndex: s.nextOutputIndex,
		itemID:      "item_" + uuid.NewString(),
		kind:        kind,
		callID:      callID,
		name:        name,
	}
	s.nextOutputIndex++
	s.items[neutralID] = item

	itemObj := map[string]any{"id": item.itemID, "type": kind}
	switch kind {
	case "function_call":
		itemObj["call_id"] = callID
		itemObj["name"] = name
		itemObj["arguments"] = ""
	case "message":
		itemObj["role"] = "assistant"
		itemObj["content"] = []any{}
	}

	return Frame{Name: "response.output_item.added", Data: map[string]any{
		"type":         "response.output_item.added",
		"output_index": item.outputIndex,
		"item":         itemObj,
	}}
}

func (s *OpenAIResponsesStream) itemDone(neutralID string) Frame {
	item := s.items[neutralID]
	if item == nil {
		return Frame{Name: "response.output_item.done", Data: map[string]any{"type": "response.output_item.done"}}
	}

	itemObj := map[string]any{"id": item.itemID, "type": item.kind}
	switch item.kind {
	case "function_call":
		itemObj["call_id"] = item.callID
		itemObj["name"] = item.name
		itemObj["arguments"] = item.accArgs
	case "message":
		itemObj["role"] = "assistant"
		itemObj["content"] = []any{map[string]any{"type": "output_text", "text": item.accText}}
	case "reasoning":
		itemObj["content"] = []any{map[string]any{"type": "reasoning_text", "text": item.accText}}
	}

	return Frame{Name: "response.output_item.done", Data: map[string]any{
		"type":         "response.output_item.done",
		"output_index": item.outputIndex,
		"item":         itemObj,
	}}
}

func (s *OpenAIResponsesStream) completed(reason unified.FinishReason, usage *unified.Usage) []Frame {
	if s.sentCompleted {
		return nil
	}
	s.sentCompleted = true

	status := "completed"
	if reason == unified.FinishError {
		status = "failed"
	}

	response := map[string]any{
		"id":      s.responseID,
		"object":  "response",
		"created": s.createdAt,
		"model":   s.model,
		"status":  status,
	}

	if usage != nil {
		u := map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"total_tokens":  usage.TotalTokens,
		}
		if usage.CachedInputTokens != nil {
			u["input_tokens_details"] = map[string]any{"cached_tokens": *usage.CachedInputTokens}
		}
		if usage.ReasoningTokens != nil {
			u["output_tokens_details"] = map[string]any{"reasoning_tokens": *usage.ReasoningTokens}
		}
		response["usage"] = u
	}

	return []Frame{{Name: "response.completed", Data: map[string]any{
		"type":     "response.completed",
		"response": response,
	}}}
}

func (s *OpenAIResponsesStream) Done() bool { return s.sentCompleted }
