package egress

import (
	"encoding/json"
	"fmt"
)

// Frame is one SSE frame ready to write to the client. Name is empty for
// the anonymous-data framing OpenAI Chat uses; it is set for the
// named-event framing OpenAI Responses and Anthropic use.
type Frame struct {
	Name string
	Data any
}

// Bytes renders f per the SSE wire format (spec.md §4.7): a named event
// gets an "event:" line before "data:"; both always end the frame with a
// blank line.
func (f Frame) Bytes() ([]byte, error) {
	payload, err := json.Marshal(f.Data)
	if err != nil {
		return nil, err
	}

	if f.Name == "" {
		return []byte(fmt.Sprintf("data: %s\n\n", payload)), nil
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Name, payload)), nil
}

// DoneFrame is the final anonymous-data sentinel OpenAI Chat streaming ends
// with.
var DoneFrame = []byte("data: [DONE]\n\n")
