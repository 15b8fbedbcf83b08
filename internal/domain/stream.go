package domain

import "encoding/json"

// StreamEventKind discriminates StreamEvent.
type StreamEventKind int

const (
	// EventDelta carries an incremental text fragment ({"content", "done": false}).
	EventDelta StreamEventKind = iota
	// EventDone is the successful terminal frame.
	EventDone
	// EventError is the failed terminal frame.
	EventError
)

// StreamEvent is one frame of a streamed chat response. It only lives for
// the duration of a single HTTP response.
type StreamEvent struct {
	Kind         StreamEventKind
	Content      string
	FullResponse string
	Error        string

	// Set on EventDone only so clients can continue the conversation.
	SessionID    int64
	IsNewSession bool
}

// DeltaEvent returns a content frame.
func DeltaEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventDelta, Content: text}
}

// DoneEvent returns the successful terminal frame.
func DoneEvent(fullText string, sessionID int64, isNew bool) StreamEvent {
	return StreamEvent{Kind: EventDone, FullResponse: fullText, SessionID: sessionID, IsNewSession: isNew}
}

// ErrorEvent returns the failed terminal frame.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Error: message}
}

// Terminal reports whether no frame may follow e.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

type deltaWire struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type doneWire struct {
	Done         bool   `json:"done"`
	FullResponse string `json:"fullResponse"`
	SessionID    int64  `json:"sessionId,omitempty"`
	IsNewSession bool   `json:"isNewSession,omitempty"`
}

type errorWire struct {
	Error string `json:"error"`
}

// MarshalJSON emits exactly the keys of the frame's variant.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventDone:
		return json.Marshal(doneWire{Done: true, FullResponse: e.FullResponse, SessionID: e.SessionID, IsNewSession: e.IsNewSession})
	case EventError:
		return json.Marshal(errorWire{Error: e.Error})
	default:
		return json.Marshal(deltaWire{Content: e.Content, Done: false})
	}
}

// UnmarshalJSON classifies a frame payload: error wins, then done, then content.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Content      *string `json:"content"`
		Done         *bool   `json:"done"`
		FullResponse string  `json:"fullResponse"`
		Error        *string `json:"error"`
		SessionID    int64   `json:"sessionId"`
		IsNewSession bool    `json:"isNewSession"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Error != nil:
		*e = ErrorEvent(*raw.Error)
	case raw.Done != nil && *raw.Done:
		*e = DoneEvent(raw.FullResponse, raw.SessionID, raw.IsNewSession)
	default:
		content := ""
		if raw.Content != nil {
			content = *raw.Content
		}
		*e = DeltaEvent(content)
	}
	return nil
}
