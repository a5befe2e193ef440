// Package unified defines the dialect-neutral representation of a chat
// request and its responses. Ingress translators build a UnifiedRequest;
// provider adapters consume it and produce a UnifiedResponse or a stream of
// StreamEvents; egress translators turn those back into a client dialect.
package unified

import "encoding/json"

// Dialect identifies one of the client-facing wire protocols.
type Dialect string

const (
	DialectOpenAIChat      Dialect = "openai-chat"
	DialectOpenAIResponses Dialect = "openai-responses"
	DialectAnthropic       Dialect = "anthropic-messages"
	DialectGemini          Dialect = "gemini"
)

// Role distinguishes the four message variants carried in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoiceMode selects how the model should use the declared tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

// ToolChoice is a tagged choice over the four tool-choice modes.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // set when Mode == ToolChoiceSpecific
}

// ResponseFormatKind selects the shape of the requested completion.
type ResponseFormatKind string

const (
	ResponseFormatText       ResponseFormatKind = "text"
	ResponseFormatJSONObject ResponseFormatKind = "json_object"
	ResponseFormatJSONSchema ResponseFormatKind = "json_schema"
)

// ResponseFormat describes the client's requested output shape.
type ResponseFormat struct {
	Kind        ResponseFormatKind
	Schema      json.RawMessage
	Name        string
	Description string
	Strict      bool
}

// Sampling carries the optional generation parameters.
type Sampling struct {
	MaxOutputTokens  *int
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	Seed             *int64
}

// Tool declares one callable function the model may invoke.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// PartKind distinguishes the shapes a content part can take.
type PartKind string

const (
	PartText      PartKind = "text"
	PartFile      PartKind = "file"
	PartImageURL  PartKind = "image_url"
	PartAudio     PartKind = "audio"
	PartToolCall  PartKind = "tool_call"
	PartReasoning PartKind = "reasoning"
	PartSource    PartKind = "source"
)

// Part is a single element of a message's or response's content.
// Only the fields relevant to Kind are populated.
type Part struct {
	Kind PartKind

	Text string // PartText, PartReasoning

	// PartFile / PartAudio
	MediaType string
	Data      string // base64 payload, or empty when a reference is used
	Filename  string
	URL       string // PartImageURL reference, or PartFile external reference
	Format    string // PartAudio: "wav" | "mp3"

	// PartToolCall
	ToolCallID string
	ToolName   string
	ToolInput  json.RawMessage

	// PartSource
	SourceURL   string
	SourceTitle string
}

// ToolResult is the payload of a Message with Role == RoleTool.
type ToolResult struct {
	ToolCallID string
	ToolName   string // resolved from the id->name map built during ingress; empty if unresolved
	JSONValue  any    // set when the tool output parsed as JSON
	Text       string // set when it did not
	IsJSON     bool
}

// Message is one turn of the conversation, tagged by Role.
type Message struct {
	Role Role

	// System/User/Assistant: either Text or Parts is populated, never both.
	Text  string
	Parts []Part

	// Tool
	ToolResult *ToolResult
}

// UnifiedRequest is the provider- and dialect-neutral request built by an
// ingress translator and consumed by the router/dispatcher.
type UnifiedRequest struct {
	RequestID       string
	Model           string
	Messages        []Message
	Tools           []Tool
	ToolChoice      *ToolChoice
	ResponseFormat  *ResponseFormat
	Sampling        *Sampling
	Stream          bool
	IncomingDialect Dialect

	// Warnings collected during ingress translation (dropped unknown
	// fields, unparseable tool arguments, and similar non-fatal notices).
	Warnings []string
}

// FinishReason is the provider-neutral completion reason.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishContentFilter FinishReason = "content-filter"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
)

// Usage reports token accounting for a single request. Pointer fields are
// nil, not zero, when the provider did not report them.
type Usage struct {
	InputTokens        int
	OutputTokens       int
	TotalTokens        int
	CachedInputTokens  *int
	ReasoningTokens    *int
}

// UnifiedResponse is a non-streaming, provider-neutral completion.
type UnifiedResponse struct {
	FinishReason   FinishReason
	Content        []Part
	Usage          Usage
	ProviderID     string
	ProviderModel  string
}

// StreamEventKind enumerates the neutral streaming vocabulary.
type StreamEventKind string

const (
	EventStart           StreamEventKind = "start"
	EventTextStart       StreamEventKind = "text-start"
	EventTextDelta       StreamEventKind = "text-delta"
	EventTextEnd         StreamEventKind = "text-end"
	EventReasoningStart  StreamEventKind = "reasoning-start"
	EventReasoningDelta  StreamEventKind = "reasoning-delta"
	EventReasoningEnd    StreamEventKind = "reasoning-end"
	EventToolInputStart  StreamEventKind = "tool-input-start"
	EventToolInputDelta  StreamEventKind = "tool-input-delta"
	EventToolInputEnd    StreamEventKind = "tool-input-end"
	EventFinish          StreamEventKind = "finish"
	EventError           StreamEventKind = "error"
	EventAbort           StreamEventKind = "abort"
)

// StreamEvent is one element of the neutral streaming vocabulary consumed by
// egress streaming translators. ID scopes deltas to their enclosing block;
// it is opaque to the converter but must round-trip within one stream.
// EventStart, when emitted, carries the prompt's input token count ahead of
// any content event, for providers (Anthropic) whose wire format reports it
// before generation begins rather than only at the end.
type StreamEvent struct {
	Kind StreamEventKind

	ID   string // text-*, reasoning-*, tool-input-*
	Text string // *-delta

	ToolName string // tool-input-start

	FinishReason FinishReason // finish
	Usage        *Usage       // finish, optional

	Err error // error
}
