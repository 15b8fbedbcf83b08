package repository

import (
	"context"
	"errors"
	"maps"

	"codechat/internal/domain"
)

// ErrSessionNotFound is returned when a session id does not resolve.
var ErrSessionNotFound = errors.New("repository: session not found")

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	SessionID   int64
	UserID      int64
	Sender      domain.Sender
	Content     string
	ContentHTML *string
	Metadata    map[string]any
}

// Store is the append-only record of chat sessions and messages.
//
// No operation mutates or removes an existing message. Appends are ordered
// by timestamp (ties broken by id); concurrent appends to one session from
// different requests are not serialized.
type Store interface {
	CreateSession(ctx context.Context, userID int64, title string, metadata map[string]any) (domain.ChatSession, error)
	GetSession(ctx context.Context, id int64) (domain.ChatSession, error)
	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error)
	AppendMessage(ctx context.Context, msg NewMessage) (domain.ChatMessage, error)
	// ListMessages returns messages in ascending timestamp order.
	ListMessages(ctx context.Context, sessionID int64) ([]domain.ChatMessage, error)
}

func validateNewMessage(msg NewMessage) error {
	if msg.SessionID <= 0 {
		return errors.New("repository: AppendMessage: session id is required")
	}
	if !msg.Sender.Valid() {
		return errors.New("repository: AppendMessage: sender must be user or ai")
	}
	return nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
