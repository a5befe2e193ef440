package egress

import (
	"github.com/google/uuid"

	"github.com/Davincible/plexus/internal/unified"
)

// toolCallState is one in-flight tool call within an OpenAI Chat stream.
type toolCallState struct {
	index int
	name  string
}

// OpenAIChatStream is the stateful transducer from neutral StreamEvents to
// OpenAI chat/completions SSE chunks (spec.md §4.7). One instance per
// request; Translate is called once per inbound StreamEvent, in order.
type OpenAIChatStream struct {
	streamID        string
	created         int64
	model           string
	sentRole        bool
	nextToolIndex   int
	toolCalls       map[string]*toolCallState
	finishSent      bool
}

func NewOpenAIChatStream(model string) *OpenAIChatStream {
	return &OpenAIChatStream{
		streamID:  "chatcmpl-" + uuid.NewString(),
		created:   nowUnix(),
		model:     model,
		toolCalls: make(map[string]*toolCallState),
	}
}

// Translate converts one neutral event into zero or more SSE frames.
func (s *OpenAIChatStream) Translate(ev unified.StreamEvent) []Frame {
	switch ev.Kind {
	case unified.EventTextStart, unified.EventReasoningStart:
		return s.maybeRoleFrame()

	case unified.EventTextDelta, unified.EventReasoningDelta:
		frames := s.maybeRoleFrame()
		frames = append(frames, s.chunk(map[string]any{"content": ev.Text}, nil))
		return frames

	case unified.EventTextEnd, unified.EventReasoningEnd:
		return nil

	case unified.EventToolInputStart:
		ts := &toolCallState{index: s.nextToolIndex, name: ev.ToolName}
		s.nextToolIndex++
		s.toolCalls[ev.ID] = ts

		frames := s.maybeRoleFrame()
		frames = append(frames, s.chunk(nil, []any{
			map[string]any{
				"index": ts.index,
				"id":    ev.ID,
				"type":  "function",
				"function": map[string]any{
					"name":      ts.name,
					"arguments": "",
				},
			},
		}))
		return frames

	case unified.EventToolInputDelta:
		ts, ok := s.toolCalls[ev.ID]
		if !ok {
			return nil
		}
		return []Frame{s.chunk(nil, []any{
			map[string]any{
				"index":    ts.index,
				"function": map[string]any{"arguments": ev.Text},
			},
		})}

	case unified.EventToolInputEnd:
		return nil

	case unified.EventFinish:
		return s.finish(ev.FinishReason, ev.Usage)

	case unified.EventError, unified.EventAbort:
		return s.finish(unified.FinishStop, nil)

	default:
		return nil
	}
}

func (s *OpenAIChatStream) maybeRoleFrame() []Frame {
	if s.sentRole {
		return nil
	}
	s.sentRole = true
	return []Frame{s.chunk(map[string]any{"role": "assistant"}, nil)}
}

func (s *OpenAIChatStream) chunk(delta map[string]any, toolCalls []any) Frame {
	if delta == nil {
		delta = map[string]any{}
	}
	if toolCalls != nil {
		delta["tool_calls"] = toolCalls
	}

	return Frame{Data: map[string]any{
		"id":      s.streamID,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []any{
			map[string]any{"index": 0, "delta": delta, "finish_reason": nil},
		},
	}}
}

func (s *OpenAIChatStream) finish(reason unified.FinishReason, usage *unified.Usage) []Frame {
	if s.finishSent {
		return nil
	}
	s.finishSent = true

	choice := map[string]any{"index": 0, "delta": map[string]any{}, "finish_reason": mapFinishOpenAI(reason)}

	frame := Frame{Data: map[string]any{
		"id":      s.streamID,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []any{choice},
	}}

	if usage != nil {
		u := map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.TotalTokens,
		}
		if usage.CachedInputTokens != nil {
			u["prompt_tokens_details"] = map[string]any{"cached_tokens": *usage.CachedInputTokens}
		}
		if usage.ReasoningTokens != nil {
			u["completion_tokens_details"] = map[string]any{"reasoning_tokens": *usage.ReasoningTokens}
		}
		frame.Data.(map[string]any)["usage"] = u
	}

	return []Frame{frame}
}

// Done reports whether the terminating frame has already been emitted, so
// the caller knows whether to still append the `[DONE]` sentinel.
func (s *OpenAIChatStream) Done() bool { return s.finishSent }
