package handler

import (
	"github.com/go-playground/validator/v10"

	"codechat/internal/domain"
)

var requestValidate = validator.New(validator.WithRequiredStructEnabled())

// chatRequest is the body of POST /api/chat and /api/chat/stream.
type chatRequest struct {
	Message             string        `json:"message" validate:"required"`
	ConversationHistory []historyTurn `json:"conversationHistory" validate:"max=200,dive"`
	SessionID           *int64        `json:"sessionId" validate:"omitempty,gt=0"`
	Stream              bool          `json:"stream"`
	Source              string        `json:"source" validate:"max=64"`
}

type historyTurn struct {
	Sender  string `json:"sender" validate:"required,oneof=user ai"`
	Content string `json:"content" validate:"max=32768"`
}

func (r *chatRequest) Validate() error {
	return requestValidate.Struct(r)
}

func (r *chatRequest) history() []domain.HistoryTurn {
	out := make([]domain.HistoryTurn, 0, len(r.ConversationHistory))
	for _, t := range r.ConversationHistory {
		out = append(out, domain.HistoryTurn{Sender: domain.Sender(t.Sender), Content: t.Content})
	}
	return out
}

func (r *chatRequest) sessionID() int64 {
	if r.SessionID == nil {
		return 0
	}
	return *r.SessionID
}
