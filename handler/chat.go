package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"codechat/internal/domain"
	"codechat/internal/usecase"
)

const defaultSource = "web"

type chatResponse struct {
	Response     string    `json:"response"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    int64     `json:"sessionId"`
	IsNewSession bool      `json:"isNewSession"`
}

type sessionsResponse struct {
	Sessions []domain.SessionSummary `json:"sessions"`
}

type messagesResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
}

func (h *Handler) postChat(c *gin.Context) {
	h.chat(c, false)
}

func (h *Handler) postChatStream(c *gin.Context) {
	h.chat(c, true)
}

// chat stores the user message, then answers either with one JSON object
// or with an event stream. Failures before the first frame are plain JSON
// errors; after that the stream's terminal frame carries them.
func (h *Handler) chat(c *gin.Context, alwaysStream bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_body", Err: err})
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(c, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_request", Err: err})
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}

	ctx := c.Request.Context()
	turn, err := h.uc.BeginTurn(ctx, usecase.TurnInput{
		UserID:     callerID(c),
		Message:    req.Message,
		History:    req.history(),
		SessionID:  req.sessionID(),
		Source:     source,
		ClientInfo: c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !alwaysStream && !req.Stream && !queryFlag(c, "stream") {
		res, err := h.uc.Complete(ctx, turn)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, chatResponse{
			Response:     res.Response,
			Timestamp:    res.Timestamp,
			SessionID:    res.SessionID,
			IsNewSession: res.IsNewSession,
		})
		return
	}

	sink, err := newSSESink(c.Writer)
	if err != nil {
		h.writeError(c, &usecase.Error{Code: usecase.ErrorInternal, Reason: "streaming_unsupported", Err: err})
		return
	}
	c.Set(ctxStreaming, true)
	c.Header(headerSessionID, strconv.FormatInt(turn.SessionID, 10))
	c.Header(headerNewSession, strconv.FormatBool(turn.IsNewSession))
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	res := h.uc.Stream(ctx, turn, sink)
	requestLogger(c).Debug("stream relayed",
		"session_id", turn.SessionID,
		"state", res.State.String(),
		"deltas", res.Deltas,
	)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.uc.ListSessions(c.Request.Context(), callerID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	session, err := h.uc.GetSession(c.Request.Context(), callerID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) listMessages(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	msgs, err := h.uc.ListMessages(c.Request.Context(), callerID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagesResponse{Messages: msgs})
}

func (h *Handler) sessionParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(c, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_session_id", Err: err})
		return 0, false
	}
	return id, true
}

func queryFlag(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}
