package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"codechat/internal/domain"
)

// pgxDB is the subset of *pgxpool.Pool used by Postgres.
type pgxDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres stores sessions and messages in the chat_sessions and
// chat_messages tables created by the embedded migrations.
type Postgres struct {
	db pgxDB
}

func NewPostgres(db pgxDB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &Postgres{db: db}, nil
}

const (
	insertSessionSQL = `
INSERT INTO chat_sessions (user_id, title, metadata)
VALUES ($1, $2, $3)
RETURNING id, created_at, updated_at`

	getSessionSQL = `
SELECT id, user_id, title, metadata, created_at, updated_at
FROM chat_sessions
WHERE id = $1`

	listSessionsSQL = `
SELECT s.id, s.user_id, s.title, s.metadata, s.created_at, s.updated_at,
       m.id, m.user_id, m.sender, m.content, m.content_html, m.metadata, m.created_at
FROM chat_sessions s
LEFT JOIN LATERAL (
    SELECT id, user_id, sender, content, content_html, metadata, created_at
    FROM chat_messages
    WHERE session_id = s.id
    ORDER BY created_at DESC, id DESC
    LIMIT 1
) m ON true
WHERE s.user_id = $1
ORDER BY s.updated_at DESC, s.id DESC`

	// The row lock taken here orders concurrent appends to one session.
	touchSessionSQL = `
UPDATE chat_sessions
SET updated_at = GREATEST(clock_timestamp(), updated_at)
WHERE id = $1
RETURNING updated_at`

	insertMessageSQL = `
INSERT INTO chat_messages (session_id, user_id, sender, content, content_html, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

	listMessagesSQL = `
SELECT id, session_id, user_id, sender, content, content_html, metadata, created_at
FROM chat_messages
WHERE session_id = $1
ORDER BY created_at ASC, id ASC`
)

func (p *Postgres) CreateSession(ctx context.Context, userID int64, title string, metadata map[string]any) (domain.ChatSession, error) {
	s := domain.ChatSession{UserID: userID, Title: title, Metadata: cloneMetadata(metadata)}
	err := p.db.QueryRow(ctx, insertSessionSQL, userID, title, s.Metadata).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: CreateSession: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id int64) (domain.ChatSession, error) {
	var s domain.ChatSession
	err := p.db.QueryRow(ctx, getSessionSQL, id).
		Scan(&s.ID, &s.UserID, &s.Title, &s.Metadata, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: GetSession: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	rows, err := p.db.Query(ctx, listSessionsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSessions query: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var (
			s           domain.ChatSession
			msgID       *int64
			msgUserID   *int64
			msgSender   *string
			msgContent  *string
			msgHTML     *string
			msgMetadata map[string]any
			msgTime     *time.Time
		)
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Title, &s.Metadata, &s.CreatedAt, &s.UpdatedAt,
			&msgID, &msgUserID, &msgSender, &msgContent, &msgHTML, &msgMetadata, &msgTime,
		); err != nil {
			return nil, fmt.Errorf("repository: ListSessions scan: %w", err)
		}
		summary := domain.SessionSummary{Session: s}
		if msgID != nil {
			summary.LastMessage = &domain.ChatMessage{
				ID:          *msgID,
				SessionID:   s.ID,
				UserID:      derefInt64(msgUserID),
				Sender:      domain.Sender(derefString(msgSender)),
				Content:     derefString(msgContent),
				ContentHTML: msgHTML,
				Timestamp:   derefTime(msgTime),
				Metadata:    msgMetadata,
			}
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListSessions rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, in NewMessage) (domain.ChatMessage, error) {
	if err := validateNewMessage(in); err != nil {
		return domain.ChatMessage{}, err
	}
	msg := domain.ChatMessage{
		SessionID:   in.SessionID,
		UserID:      in.UserID,
		Sender:      in.Sender,
		Content:     in.Content,
		ContentHTML: in.ContentHTML,
		Metadata:    cloneMetadata(in.Metadata),
	}

	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, touchSessionSQL, in.SessionID).Scan(&msg.Timestamp); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("touch session: %w", err)
		}
		if err := tx.QueryRow(ctx, insertMessageSQL,
			msg.SessionID, msg.UserID, string(msg.Sender), msg.Content, msg.ContentHTML, msg.Metadata, msg.Timestamp,
		).Scan(&msg.ID); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return domain.ChatMessage{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg, nil
}

func (p *Postgres) ListMessages(ctx context.Context, sessionID int64) ([]domain.ChatMessage, error) {
	rows, err := p.db.Query(ctx, listMessagesSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ChatMessage, error) {
		var (
			m      domain.ChatMessage
			sender string
		)
		err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &sender, &m.Content, &m.ContentHTML, &m.Metadata, &m.Timestamp)
		m.Sender = domain.Sender(sender)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages scan: %w", err)
	}
	return msgs, nil
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return *v
}

var _ Store = (*Postgres)(nil)
