package chatclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codechat/internal/domain"
)

type capturedRequest struct {
	method string
	path   string
	userID string
	body   map[string]any
}

func newServer(t *testing.T, captured *capturedRequest, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.userID = r.Header.Get("X-User-Id")
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &captured.body)
			}
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", 42, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New("", 1)
	require.Error(t, err)
	_, err = New("http://localhost", 0)
	require.Error(t, err)
}

func TestStream_Happy(t *testing.T) {
	var got capturedRequest
	c := newServer(t, &got, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Session-Id", "3")
		_, _ = io.WriteString(w, "data: {\"content\":\"A \",\"done\":false}\n\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "data: {\"content\":\"closure\",\"done\":false}\n\ndata: {\"done\":true,\"fullResponse\":\"A closure\"}\n\n")
	})

	var deltas []string
	sid := int64(3)
	done, err := c.Stream(context.Background(), Request{Message: "What is a closure?", SessionID: &sid}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"A ", "closure"}, deltas)
	require.Equal(t, "A closure", done.FullResponse)
	require.Equal(t, int64(3), done.SessionID)

	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/api/chat/stream", got.path)
	require.Equal(t, "42", got.userID)
	require.Equal(t, "What is a closure?", got.body["message"])
	require.EqualValues(t, 3, got.body["sessionId"])
}

func TestStream_ErrorFrame(t *testing.T) {
	var got capturedRequest
	c := newServer(t, &got, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "data: {\"error\":\"rate limited\"}\n\n")
	})
	_, err := c.Stream(context.Background(), Request{Message: "hi"}, nil)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, "rate limited", streamErr.Message)
	require.Nil(t, got.body["sessionId"])
}

func TestStream_APIError(t *testing.T) {
	var got capturedRequest
	c := newServer(t, &got, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"NOT_FOUND","message":"session_not_found"}`)
	})
	_, err := c.Stream(context.Background(), Request{Message: "hi"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "NOT_FOUND", apiErr.Code)
	require.Equal(t, "session_not_found", apiErr.Message)
}

func TestStream_DeltaCallbackAborts(t *testing.T) {
	var got capturedRequest
	c := newServer(t, &got, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "data: {\"content\":\"x\",\"done\":false}\n\n")
	})
	stop := context.Canceled
	_, err := c.Stream(context.Background(), Request{Message: "hi"}, func(string) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestSend(t *testing.T) {
	var got capturedRequest
	c := newServer(t, &got, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"response":"ok","timestamp":"2026-03-01T12:00:00Z","sessionId":9,"isNewSession":true}`)
	})
	reply, err := c.Send(context.Background(), Request{Message: "hi", Stream: true})
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Response)
	require.Equal(t, int64(9), reply.SessionID)
	require.True(t, reply.IsNewSession)
	require.True(t, reply.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, "/api/chat", got.path)
	require.Nil(t, got.body["stream"])
}

func TestSessionsAndMessages(t *testing.T) {
	var got capturedRequest
	c := newServer(t, &got, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/messages") {
			_, _ = io.WriteString(w, `{"messages":[{"id":1,"sessionId":5,"userId":42,"sender":"user","content":"hi","timestamp":"2026-03-01T12:00:00Z"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"sessions":[{"session":{"id":5,"userId":42,"title":"hi","createdAt":"2026-03-01T12:00:00Z","updatedAt":"2026-03-01T12:00:00Z"}}]}`)
	})

	sessions, err := c.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, int64(5), sessions[0].Session.ID)
	require.Equal(t, http.MethodGet, got.method)

	msgs, err := c.Messages(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, "/api/chat/sessions/5/messages", got.path)
	require.Equal(t, []domain.ChatMessage{{
		ID: 1, SessionID: 5, UserID: 42, Sender: domain.SenderUser, Content: "hi",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}, msgs)
}
