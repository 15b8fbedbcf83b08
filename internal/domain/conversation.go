package domain

import "time"

// Sender identifies who authored a ChatMessage.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Role maps a sender to the provider role name.
func (s Sender) Role() string {
	if s == SenderAI {
		return RoleAssistant
	}
	return RoleUser
}

// ChatSession is one conversation thread owned by a single user.
type ChatSession struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"userId"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatMessage is one persisted turn half. Messages are never mutated after
// creation.
type ChatMessage struct {
	ID          int64          `json:"id"`
	SessionID   int64          `json:"sessionId"`
	UserID      int64          `json:"userId"`
	Sender      Sender         `json:"sender"`
	Content     string         `json:"content"`
	ContentHTML *string        `json:"contentHtml,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SessionSummary pairs a session with its most recent message, if any.
type SessionSummary struct {
	Session     ChatSession  `json:"session"`
	LastMessage *ChatMessage `json:"lastMessage,omitempty"`
}

// HistoryTurn is a prior turn supplied by the caller with a chat request.
type HistoryTurn struct {
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}
