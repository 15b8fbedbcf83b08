package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"codechat/internal/domain"
	"codechat/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerUserID        = "X-User-Id"
	headerSessionID     = "X-Session-Id"
	headerNewSession    = "X-New-Session"

	ctxLogger    = "codechat.logger"
	ctxUserID    = "codechat.user_id"
	ctxStreaming = "codechat.streaming"

	slowRequest = 2 * time.Second
)

// ChatUseCase is the chat service as seen by the HTTP layer.
type ChatUseCase interface {
	BeginTurn(ctx context.Context, in usecase.TurnInput) (*usecase.Turn, error)
	Complete(ctx context.Context, turn *usecase.Turn) (usecase.ChatResult, error)
	Stream(ctx context.Context, turn *usecase.Turn, out usecase.EventSink) usecase.RelayResult
	ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error)
	GetSession(ctx context.Context, userID, sessionID int64) (domain.ChatSession, error)
	ListMessages(ctx context.Context, userID, sessionID int64) ([]domain.ChatMessage, error)
}

type Handler struct {
	uc  ChatUseCase
	log *slog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var newUUID = func() string {
	return uuid.NewString()
}

func NewHandler(uc ChatUseCase, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, log: logger}, nil
}

// Engine returns a gin engine serving every chat route.
func (h *Handler) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	h.Register(engine)
	return engine
}

// Register mounts the chat routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)

	api := r.Group("/api/chat", h.correlation, h.requireUser)
	api.POST("", h.postChat)
	api.POST("/stream", h.postChatStream)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/sessions/:id/messages", h.listMessages)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// correlation echoes or assigns X-Correlation-Id and logs the request once
// it completes.
func (h *Handler) correlation(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(headerCorrelationID))
	if id == "" {
		id = newUUID()
	}
	c.Header(headerCorrelationID, id)

	log := h.log.With("correlation_id", id)
	c.Set(ctxLogger, log)

	start := time.Now()
	c.Next()

	elapsed := time.Since(start)
	level := slog.LevelInfo
	if elapsed > slowRequest && !c.GetBool(ctxStreaming) {
		level = slog.LevelWarn
	}
	log.Log(c.Request.Context(), level, "request handled",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration_ms", elapsed.Milliseconds(),
	)
}

// requireUser reads the caller identity set by the trusted upstream.
func (h *Handler) requireUser(c *gin.Context) {
	userID, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(headerUserID)), 10, 64)
	if err != nil || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Error:   string(usecase.ErrorUnauthenticated),
			Message: "missing or invalid " + headerUserID,
		})
		return
	}
	c.Set(ctxUserID, userID)
	c.Next()
}

func requestLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if log, ok := v.(*slog.Logger); ok {
			return log
		}
	}
	return slog.Default()
}

func callerID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, body := errorToResponse(err)
	log := requestLogger(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error_code", body.Error, "err", err)
	} else {
		log.Warn("request rejected", "error_code", body.Error, "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func errorToResponse(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal error"}
	}
	body := errorResponse{Error: string(ue.Code), Message: ue.Reason}
	switch ue.Code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest, body
	case usecase.ErrorUnauthenticated:
		return http.StatusUnauthorized, body
	case usecase.ErrorNotFound:
		return http.StatusNotFound, body
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, body
	case usecase.ErrorProvider:
		return http.StatusBadGateway, body
	case usecase.ErrorStorage:
		return http.StatusInternalServerError, body
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: ue.Reason}
	}
}
