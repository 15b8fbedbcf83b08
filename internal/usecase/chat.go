package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"codechat/internal/domain"
	"codechat/internal/metrics"
	"codechat/internal/repository"
)

const (
	defaultMaxMessageLength = 8000
	defaultMaxHistory       = 40
)

// CompletionClient is the language-model provider seen by the service.
type CompletionClient interface {
	Complete(ctx context.Context, messages []domain.PromptMessage) (domain.Completion, error)
	CompleteStream(ctx context.Context, messages []domain.PromptMessage, sink domain.StreamSink)
	Model() string
}

// SessionStore is the persistence the service depends on.
type SessionStore interface {
	CreateSession(ctx context.Context, userID int64, title string, metadata map[string]any) (domain.ChatSession, error)
	GetSession(ctx context.Context, id int64) (domain.ChatSession, error)
	ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error)
	AppendMessage(ctx context.Context, msg repository.NewMessage) (domain.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID int64) ([]domain.ChatMessage, error)
}

// TokenCounter estimates usage when the provider does not report it.
type TokenCounter interface {
	Count(model, text string) (int, error)
	CountMessages(model string, messages []domain.PromptMessage) (int, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Options struct {
	SystemPrompt       string
	MaxMessageLength   int
	MaxHistoryMessages int
	Tokens             TokenCounter
	Metrics            *metrics.Chat
	Logger             *slog.Logger
}

type ChatService struct {
	store        SessionStore
	llm          CompletionClient
	tokens       TokenCounter
	metrics      *metrics.Chat
	log          *slog.Logger
	systemPrompt string
	maxMessage   int
	maxHistory   int
	now          func() time.Time
}

// TurnInput is one validated chat request.
type TurnInput struct {
	UserID  int64
	Message string
	History []domain.HistoryTurn

	// SessionID continues an existing session; zero starts a new one.
	SessionID  int64
	Source     string
	ClientInfo string
}

// Turn is a chat turn whose user message has been stored and whose prompt
// is ready for the provider.
type Turn struct {
	SessionID    int64
	UserID       int64
	IsNewSession bool
	UserMessage  domain.ChatMessage
	Prompt       []domain.PromptMessage
	started      time.Time
}

// ChatResult is the reply of a blocking turn.
type ChatResult struct {
	Response     string
	Timestamp    time.Time
	SessionID    int64
	IsNewSession bool
}

func NewChatService(store SessionStore, llm CompletionClient, opts Options) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	s := &ChatService{
		store:        store,
		llm:          llm,
		tokens:       opts.Tokens,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		maxMessage:   opts.MaxMessageLength,
		maxHistory:   opts.MaxHistoryMessages,
		now:          time.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.systemPrompt == "" {
		s.systemPrompt = defaultPrompt
	}
	if s.maxMessage <= 0 {
		s.maxMessage = defaultMaxMessageLength
	}
	if s.maxHistory <= 0 {
		s.maxHistory = defaultMaxHistory
	}
	return s, nil
}

// BeginTurn validates the request, resolves or creates the session, stores
// the user message and builds the prompt. Nothing is sent to the provider;
// a storage failure here aborts the turn before any provider call.
func (s *ChatService) BeginTurn(ctx context.Context, in TurnInput) (*Turn, error) {
	// Surrounding whitespace counts for neither check, but the message is
	// stored and sent exactly as written.
	trimmed := strings.TrimSpace(in.Message)
	if trimmed == "" {
		return nil, newError(ErrorValidation, "empty_message", nil)
	}
	if utf8.RuneCountInString(trimmed) > s.maxMessage {
		return nil, newError(ErrorValidation, "message_too_long", nil)
	}
	if in.UserID <= 0 {
		return nil, newError(ErrorUnauthenticated, "missing_user", nil)
	}
	if in.SessionID < 0 {
		return nil, newError(ErrorValidation, "invalid_session_id", nil)
	}
	for _, h := range in.History {
		if !h.Sender.Valid() {
			return nil, newError(ErrorValidation, "invalid_history_sender", nil)
		}
	}

	turn := &Turn{UserID: in.UserID, started: s.now()}
	meta := clientMetadata(in.Source, in.ClientInfo)
	if in.SessionID == 0 {
		session, err := s.store.CreateSession(ctx, in.UserID, sessionTitle(trimmed), meta)
		if err != nil {
			return nil, newError(ErrorStorage, "create_session_error", err)
		}
		turn.SessionID = session.ID
		turn.IsNewSession = true
	} else {
		if _, err := s.ownedSession(ctx, in.UserID, in.SessionID); err != nil {
			return nil, err
		}
		turn.SessionID = in.SessionID
	}

	userMsg, err := s.store.AppendMessage(ctx, repository.NewMessage{
		SessionID: turn.SessionID,
		UserID:    in.UserID,
		Sender:    domain.SenderUser,
		Content:   in.Message,
		Metadata:  meta,
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, newError(ErrorNotFound, "session_not_found", err)
		}
		return nil, newError(ErrorStorage, "append_user_message_error", err)
	}
	turn.UserMessage = userMsg
	turn.Prompt = buildPromptMessages(s.systemPrompt, in.History, s.maxHistory, in.Message)
	return turn, nil
}

// Complete runs the blocking path for a prepared turn.
//
// A reply that cannot be stored is still returned; the failure is logged
// and counted.
func (s *ChatService) Complete(ctx context.Context, turn *Turn) (ChatResult, error) {
	if turn == nil {
		return ChatResult{}, newError(ErrorInternal, "nil_turn", nil)
	}
	out, err := s.llm.Complete(ctx, turn.Prompt)
	if err != nil {
		s.metrics.RecordTurn(metrics.ModeBlocking, metrics.OutcomeProviderErr)
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return ChatResult{}, newError(ErrorRateLimited, "provider_rate_limited", err)
		}
		return ChatResult{}, newError(ErrorProvider, "provider_error", err)
	}

	usage := s.usage(turn.Prompt, out)
	s.metrics.RecordTurn(metrics.ModeBlocking, metrics.OutcomeCompleted)
	s.metrics.RecordTokens(out.Model, usage.PromptTokens, usage.CompletionTokens)

	result := ChatResult{
		Response:     out.Text,
		Timestamp:    s.now(),
		SessionID:    turn.SessionID,
		IsNewSession: turn.IsNewSession,
	}
	msg, err := s.persistReply(context.WithoutCancel(ctx), turn, out, usage, metrics.ModeBlocking)
	if err == nil {
		result.Timestamp = msg.Timestamp
	}
	s.log.Info("chat turn completed",
		"mode", metrics.ModeBlocking,
		"session_id", turn.SessionID,
		"new_session", turn.IsNewSession,
		"duration_ms", s.now().Sub(turn.started).Milliseconds(),
	)
	return result, nil
}

// Chat is BeginTurn followed by Complete.
func (s *ChatService) Chat(ctx context.Context, in TurnInput) (ChatResult, error) {
	turn, err := s.BeginTurn(ctx, in)
	if err != nil {
		return ChatResult{}, err
	}
	return s.Complete(ctx, turn)
}

// Stream runs the streaming path for a prepared turn, writing every frame
// to out and closing it when done.
func (s *ChatService) Stream(ctx context.Context, turn *Turn, out EventSink) RelayResult {
	r := &relay{svc: s, ctx: ctx, turn: turn, out: out}
	return r.run()
}

// ListSessions returns the caller's sessions, most recently updated first.
func (s *ChatService) ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	if userID <= 0 {
		return nil, newError(ErrorUnauthenticated, "missing_user", nil)
	}
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, newError(ErrorStorage, "list_sessions_error", err)
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	return sessions, nil
}

// GetSession returns a session owned by userID.
func (s *ChatService) GetSession(ctx context.Context, userID, sessionID int64) (domain.ChatSession, error) {
	return s.ownedSession(ctx, userID, sessionID)
}

// ListMessages returns the messages of a session owned by userID in
// ascending timestamp order.
func (s *ChatService) ListMessages(ctx context.Context, userID, sessionID int64) ([]domain.ChatMessage, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorStorage, "list_messages_error", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// ownedSession loads a session and hides sessions of other users behind
// NOT_FOUND.
func (s *ChatService) ownedSession(ctx context.Context, userID, sessionID int64) (domain.ChatSession, error) {
	if userID <= 0 {
		return domain.ChatSession{}, newError(ErrorUnauthenticated, "missing_user", nil)
	}
	if sessionID <= 0 {
		return domain.ChatSession{}, newError(ErrorValidation, "invalid_session_id", nil)
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return domain.ChatSession{}, newError(ErrorNotFound, "session_not_found", err)
	}
	if err != nil {
		return domain.ChatSession{}, newError(ErrorStorage, "get_session_error", err)
	}
	if session.UserID != userID {
		return domain.ChatSession{}, newError(ErrorNotFound, "session_not_found", nil)
	}
	return session, nil
}

// persistReply stores the AI message for a completed generation.
func (s *ChatService) persistReply(ctx context.Context, turn *Turn, out domain.Completion, usage domain.Usage, mode string) (domain.ChatMessage, error) {
	meta := map[string]any{
		"model":            out.Model,
		"promptTokens":     usage.PromptTokens,
		"completionTokens": usage.CompletionTokens,
		"totalTokens":      usage.TotalTokens,
		"mode":             mode,
		"durationMs":       s.now().Sub(turn.started).Milliseconds(),
	}
	if out.FinishReason != "" {
		meta["finishReason"] = out.FinishReason
	}
	msg, err := s.store.AppendMessage(ctx, repository.NewMessage{
		SessionID: turn.SessionID,
		UserID:    turn.UserID,
		Sender:    domain.SenderAI,
		Content:   out.Text,
		Metadata:  meta,
	})
	if err != nil {
		s.metrics.RecordPersistFailure()
		s.log.Error("persist ai message failed", "session_id", turn.SessionID, "mode", mode, "err", err)
		return domain.ChatMessage{}, err
	}
	return msg, nil
}

func (s *ChatService) usage(prompt []domain.PromptMessage, out domain.Completion) domain.Usage {
	u := out.Usage
	if u.TotalTokens > 0 || s.tokens == nil {
		return u
	}
	if n, err := s.tokens.CountMessages(out.Model, prompt); err == nil {
		u.PromptTokens = n
	} else {
		s.log.Debug("count prompt tokens failed", "err", err)
	}
	if n, err := s.tokens.Count(out.Model, out.Text); err == nil {
		u.CompletionTokens = n
	} else {
		s.log.Debug("count completion tokens failed", "err", err)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func clientMetadata(source, clientInfo string) map[string]any {
	meta := map[string]any{}
	if source = strings.TrimSpace(source); source != "" {
		meta["source"] = source
	}
	if clientInfo = strings.TrimSpace(clientInfo); clientInfo != "" {
		meta["clientInfo"] = clientInfo
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
