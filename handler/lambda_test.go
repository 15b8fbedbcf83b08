package handler

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"codechat/internal/domain"
	"codechat/internal/usecase"
)

func functionURLEvent(method, path, query, body string) *events.LambdaFunctionURLRequest {
	return &events.LambdaFunctionURLRequest{
		RawPath:        path,
		RawQueryString: query,
		Headers: map[string]string{
			"content-type": "application/json",
			"x-user-id":    "7",
		},
		Body: body,
		RequestContext: events.LambdaFunctionURLRequestContext{
			DomainName: "abc.lambda-url.eu-west-1.on.aws",
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				SourceIP: "203.0.113.9",
			},
		},
	}
}

func TestNewLambdaAdapter_ValidatesDependency(t *testing.T) {
	_, err := NewLambdaAdapter(nil)
	require.Error(t, err)
}

func TestLambdaAdapter_StreamsFrames(t *testing.T) {
	uc := &stubUseCase{
		turn: &usecase.Turn{SessionID: 5, IsNewSession: true},
		events: []domain.StreamEvent{
			domain.DeltaEvent("hi"),
			domain.DoneEvent("hi", 5, true),
		},
	}
	adapter, err := NewLambdaAdapter(newTestEngine(t, uc))
	require.NoError(t, err)

	resp, err := adapter.Handle(context.Background(), functionURLEvent(http.MethodPost, "/api/chat", "stream=true", `{"message":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Headers["Content-Type"])
	require.Equal(t, "5", resp.Headers[headerSessionID])
	require.Equal(t, "true", resp.Headers[headerNewSession])

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, uc.events, readFrames(t, body))
	require.Equal(t, int64(7), uc.in.UserID)
}

func TestLambdaAdapter_JSONError(t *testing.T) {
	adapter, err := NewLambdaAdapter(newTestEngine(t, &stubUseCase{}))
	require.NoError(t, err)

	resp, err := adapter.Handle(context.Background(), functionURLEvent(http.MethodPost, "/api/chat", "", `{"message":""}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, string(usecase.ErrorValidation), parseBody[errorResponse](t, body).Error)
}

func TestLambdaAdapter_Base64Body(t *testing.T) {
	uc := &stubUseCase{turn: &usecase.Turn{SessionID: 1}, result: usecase.ChatResult{Response: "ok", SessionID: 1}}
	adapter, err := NewLambdaAdapter(newTestEngine(t, uc))
	require.NoError(t, err)

	event := functionURLEvent(http.MethodPost, "/api/chat", "", base64.StdEncoding.EncodeToString([]byte(`{"message":"encoded"}`)))
	event.IsBase64Encoded = true
	resp, err := adapter.Handle(context.Background(), event)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "encoded", uc.in.Message)
}

func TestLambdaAdapter_EmptyResponse(t *testing.T) {
	adapter, err := NewLambdaAdapter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	require.NoError(t, err)

	resp, err := adapter.Handle(context.Background(), functionURLEvent(http.MethodGet, "/", "", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestLambdaAdapter_BadBase64(t *testing.T) {
	adapter, err := NewLambdaAdapter(http.NotFoundHandler())
	require.NoError(t, err)
	event := functionURLEvent(http.MethodPost, "/", "", "%%%")
	event.IsBase64Encoded = true
	_, err = adapter.Handle(context.Background(), event)
	require.Error(t, err)
}
