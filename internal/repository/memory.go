package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"codechat/internal/domain"
)

// Memory is an in-process Store used for local development and tests.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	nextSession int64
	nextMessage int64
	sessions    map[int64]domain.ChatSession
	messages    map[int64][]domain.ChatMessage
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[int64]domain.ChatSession),
		messages: make(map[int64][]domain.ChatMessage),
	}
}

func (m *Memory) CreateSession(_ context.Context, userID int64, title string, metadata map[string]any) (domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSession++
	now := m.now()
	s := domain.ChatSession{
		ID:        m.nextSession,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  cloneMetadata(metadata),
	}
	m.sessions[s.ID] = s
	return copySession(s), nil
}

func (m *Memory) GetSession(_ context.Context, id int64) (domain.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.ChatSession{}, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (m *Memory) ListSessions(_ context.Context, userID int64) ([]domain.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.SessionSummary, 0)
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		summary := domain.SessionSummary{Session: copySession(s)}
		if msgs := m.messages[s.ID]; len(msgs) > 0 {
			last := copyMessage(msgs[len(msgs)-1])
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, in NewMessage) (domain.ChatMessage, error) {
	if err := validateNewMessage(in); err != nil {
		return domain.ChatMessage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[in.SessionID]
	if !ok {
		return domain.ChatMessage{}, ErrSessionNotFound
	}

	ts := m.now()
	// Keep the per-session sequence non-decreasing even if the clock steps back.
	if msgs := m.messages[in.SessionID]; len(msgs) > 0 && ts.Before(msgs[len(msgs)-1].Timestamp) {
		ts = msgs[len(msgs)-1].Timestamp
	}

	m.nextMessage++
	msg := domain.ChatMessage{
		ID:          m.nextMessage,
		SessionID:   in.SessionID,
		UserID:      in.UserID,
		Sender:      in.Sender,
		Content:     in.Content,
		ContentHTML: in.ContentHTML,
		Timestamp:   ts,
		Metadata:    cloneMetadata(in.Metadata),
	}
	m.messages[in.SessionID] = append(m.messages[in.SessionID], msg)

	s.UpdatedAt = ts
	m.sessions[s.ID] = s
	return copyMessage(msg), nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID int64) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, copyMessage(msg))
	}
	return out, nil
}

func copySession(s domain.ChatSession) domain.ChatSession {
	s.Metadata = cloneMetadata(s.Metadata)
	return s
}

func copyMessage(msg domain.ChatMessage) domain.ChatMessage {
	msg.Metadata = cloneMetadata(msg.Metadata)
	return msg
}

var _ Store = (*Memory)(nil)
