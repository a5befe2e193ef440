package egress

import (
	"github.com/google/uuid"

	"github.com/Davincible/plexus/internal/unified"
)

type anthropicBlock struct {
	index int
	kind  string // "text" | "thinking" | "tool_use"
}

// AnthropicMessagesStream is the stateful transducer from neutral
// StreamEvents to Anthropic Messages SSE events (spec.md §4.7).
type AnthropicMessagesStream struct {
	messageID         string
	model             string
	nextBlockIndex    int
	blocks            map[string]*anthropicBlock
	inputTokens       int
	sentMessageStart  bool
	sentMessageStop   bool
}

func NewAnthropicMessagesStream(model string) *AnthropicMessagesStream {
	return &AnthropicMessagesStream{
		messageID: "msg_" + uuid.NewString(),
		model:     model,
		blocks:    make(map[string]*anthropicBlock),
	}
}

func (s *AnthropicMessagesStream) Translate(ev unified.StreamEvent) []Frame {
	var frames []Frame

	if ev.Kind == unified.EventStart && ev.Usage != nil {
		s.inputTokens = ev.Usage.InputTokens
	}

	if !s.sentMessageStart {
		s.sentMessageStart = true
		frames = append(frames, s.messageStart())
	}

	switch ev.Kind {
	case unified.EventStart:
		// already folded into messageStart() above; no content frame to emit

	case unified.EventTextStart:
		frames = append(frames, s.blockStart(ev.ID, "text", map[string]any{"type": "text", "text": ""}))

	case unified.EventReasoningStart:
		frames = append(frames, s.blockStart(ev.ID, "thinking", map[string]any{"type": "thinking", "thinking": ""}))

	case unified.EventToolInputStart:
		frames = append(frames, s.blockStart(ev.ID, "tool_use", map[string]any{"type": "tool_use", "id": ev.ID, "name": ev.ToolName, "input": map[string]any{}}))

	case unified.EventTextDelta:
		frames = append(frames, s.blockDelta(ev.ID, map[string]any{"type": "text_delta", "text": ev.Text}))

	case unified.EventReasoningDelta:
		frames = append(frames, s.blockDelta(ev.ID, map[string]any{"type": "thinking_delta", "thinking": ev.Text}))

	case unified.EventToolInputDelta:
		frames = append(frames, s.blockDelta(ev.ID, map[string]any{"type": "input_json_delta", "partial_json": ev.Text}))

	case unified.EventTextEnd, unified.EventReasoningEnd, unified.EventToolInputEnd:
		frames = append(frames, s.blockStop(ev.ID))

	case unified.EventFinish:
		frames = append(frames, s.finish(ev.FinishReason, ev.Usage)...)

	case unified.EventError, unified.EventAbort:
		frames = append(frames, s.finish(unified.FinishError, nil)...)
	}

	return frames
}

func (s *AnthropicMessagesStream) messageStart() Frame {
	return Frame{Name: "message_start", Data: map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": s.inputTokens, "output_tokens": 0},
		},
	}}
}

func (s *AnthropicMessagesStream) blockStart(id, kind string, block map[string]any) Frame {
	b := &anthropicBlock{index: s.nextBlockIndex, kind: kind}
	s.nextBlockIndex++
	s.blocks[id] = b

	return Frame{Name: "content_block_start", Data: map[string]any{
		"type":          "content_block_start",
		"index":         b.index,
		"content_block": block,
	}}
}

func (s *AnthropicMessagesStream) blockDelta(id string, delta map[string]any) Frame {
	b := s.blocks[id]
	index := 0
	if b != nil {
		index = b.index
	}
	return Frame{Name: "content_block_delta", Data: map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	}}
}

func (s *AnthropicMessagesStream) blockStop(id string) Frame {
	b := s.blocks[id]
	index := 0
	if b != nil {
		index = b.index
	}
	return Frame{Name: "content_block_stop", Data: map[string]any{
		"type":  "content_block_stop",
		"index": index,
	}}
}

func (s *AnthropicMessagesStream) finish(reason unified.FinishReason, usage *unified.Usage) []Frame {
	if s.sentMessageStop {
		return nil
	}
	s.sentMessageStop = true

	outputTokens := 0
	if usage != nil {
		outputTokens = usage.OutputTokens
	}

	delta := Frame{Name: "message_delta", Data: map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": mapStopReasonAnthropicStream(reason), "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": outputTokens},
	}}

	stop := Frame{Name: "message_stop", Data: map[string]any{"type": "message_stop"}}

	return []Frame{delta, stop}
}

func mapStopReasonAnthropicStream(r unified.FinishReason) string {
	switch r {
	case unified.FinishStop:
		return "end_turn"
	case unified.FinishLength:
		return "max_tokens"
	case unified.FinishToolCalls:
		return "tool_use"
	case unified.FinishContentFilter:
		return "safety"
	case unified.FinishError:
		return "error"
	default:
		return "end_turn"
	}
}

func (s *AnthropicMessagesStream) Done() bool { return s.sentMessageStop }
