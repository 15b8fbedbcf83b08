package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, handler http.HandlerFunc, args ...string) (string, string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--user", "5"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAsk_Streams(t *testing.T) {
	var path, user string
	out, errOut, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		path, user = r.URL.Path, r.Header.Get("X-User-Id")
		_, _ = io.WriteString(w, "data: {\"content\":\"A \",\"done\":false}\n\n"+
			"data: {\"content\":\"closure\",\"done\":false}\n\n"+
			"data: {\"done\":true,\"fullResponse\":\"A closure\",\"sessionId\":8,\"isNewSession\":true}\n\n")
	}, "ask", "What", "is", "a", "closure?")

	require.NoError(t, err)
	require.Equal(t, "/api/chat/stream", path)
	require.Equal(t, "5", user)
	require.Equal(t, "A closure\n", out)
	require.Equal(t, "new session 8\n", errOut)
}

func TestAsk_NoStream(t *testing.T) {
	var path string
	out, errOut, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = io.WriteString(w, `{"response":"ok","timestamp":"2026-03-01T12:00:00Z","sessionId":3,"isNewSession":false}`)
	}, "ask", "--no-stream", "--session", "3", "again")

	require.NoError(t, err)
	require.Equal(t, "/api/chat", path)
	require.Equal(t, "ok\n", out)
	require.Equal(t, "session 3\n", errOut)
}

func TestAsk_StreamError(t *testing.T) {
	_, _, err := run(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "data: {\"error\":\"rate limited\"}\n\n")
	}, "ask", "hi")
	require.ErrorContains(t, err, "rate limited")
}

func TestSessions(t *testing.T) {
	out, _, err := run(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sessions":[{"session":{"id":5,"userId":5,"title":"closures","createdAt":"2026-03-01T12:00:00Z","updatedAt":"2026-03-01T12:00:00Z"},"lastMessage":{"id":2,"sessionId":5,"userId":5,"sender":"ai","content":"A closure is a function value that references variables from outside its body.","timestamp":"2026-03-01T12:00:00Z"}}]}`)
	}, "sessions")

	require.NoError(t, err)
	require.Contains(t, out, "ID")
	require.Contains(t, out, "closures")
	require.Contains(t, out, "A closure is a function value that refer...")
}

func TestSessions_Empty(t *testing.T) {
	out, _, err := run(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sessions":[]}`)
	}, "sessions")
	require.NoError(t, err)
	require.Equal(t, "No sessions yet.\n", out)
}

func TestHistory(t *testing.T) {
	var path string
	out, _, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = io.WriteString(w, `{"messages":[{"id":1,"sender":"user","content":"hi"},{"id":2,"sender":"ai","content":"hello"}]}`)
	}, "history", "5")
	require.NoError(t, err)
	require.Equal(t, "/api/chat/sessions/5/messages", path)
	require.Equal(t, "[user] hi\n[ai] hello\n", out)
}

func TestHistory_InvalidID(t *testing.T) {
	_, _, err := run(t, func(http.ResponseWriter, *http.Request) {}, "history", "abc")
	require.ErrorContains(t, err, "invalid session id")
}

func TestHistory_NotFound(t *testing.T) {
	_, _, err := run(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"NOT_FOUND","message":"session_not_found"}`)
	}, "history", "9")
	require.ErrorContains(t, err, "NOT_FOUND")
}
