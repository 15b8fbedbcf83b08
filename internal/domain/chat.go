package domain

// Provider role names used in prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PromptMessage is the provider-agnostic message shape sent to the
// completion provider.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the result of a blocking completion call.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// StreamSink receives the incremental output of a streaming completion.
//
// OnDelta may return an error to stop the stream (for example when the
// downstream client went away); the producer then makes no further calls.
// Otherwise exactly one of OnDone or OnError is called, once.
type StreamSink interface {
	OnDelta(text string) error
	OnDone(fullText string, meta Completion)
	OnError(message string)
}
