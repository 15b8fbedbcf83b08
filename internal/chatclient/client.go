// Package chatclient talks to the chat HTTP API, including its event
// stream.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codechat/internal/domain"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: status %d: %s %s", e.StatusCode, e.Code, e.Message)
}

// StreamError is an error terminal frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "chatclient: stream failed: " + e.Message
}

type Request struct {
	Message   string               `json:"message"`
	History   []domain.HistoryTurn `json:"conversationHistory,omitempty"`
	SessionID *int64               `json:"sessionId"`
	Stream    bool                 `json:"stream,omitempty"`
	Source    string               `json:"source,omitempty"`
}

type Reply struct {
	Response     string    `json:"response"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    int64     `json:"sessionId"`
	IsNewSession bool      `json:"isNewSession"`
}

type Client struct {
	baseURL    string
	userID     int64
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func New(baseURL string, userID int64, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chatclient: base url must not be empty")
	}
	if userID <= 0 {
		return nil, errors.New("chatclient: user id must be positive")
	}
	c := &Client{baseURL: baseURL, userID: userID, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send runs a blocking chat turn.
func (c *Client) Send(ctx context.Context, req Request) (Reply, error) {
	req.Stream = false
	var out Reply
	err := c.do(ctx, http.MethodPost, "/api/chat", req, &out)
	return out, err
}

// Stream runs a streaming chat turn, calling onDelta for every content
// frame, and returns the done frame. An error frame is returned as
// *StreamError.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(text string) error) (domain.StreamEvent, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/chat/stream", req)
	if err != nil {
		return domain.StreamEvent{}, err
	}
	defer resp.Body.Close()

	r := NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err != nil {
			return domain.StreamEvent{}, err
		}
		switch ev.Kind {
		case domain.EventDone:
			if ev.SessionID == 0 {
				ev.SessionID, _ = strconv.ParseInt(resp.Header.Get("X-Session-Id"), 10, 64)
			}
			return ev, nil
		case domain.EventError:
			return domain.StreamEvent{}, &StreamError{Message: ev.Error}
		default:
			if onDelta != nil {
				if err := onDelta(ev.Content); err != nil {
					return domain.StreamEvent{}, err
				}
			}
		}
	}
}

func (c *Client) Sessions(ctx context.Context) ([]domain.SessionSummary, error) {
	var out struct {
		Sessions []domain.SessionSummary `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/chat/sessions", nil, &out)
	return out.Sessions, err
}

func (c *Client) Messages(ctx context.Context, sessionID int64) ([]domain.ChatMessage, error) {
	var out struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/api/chat/sessions/"+strconv.FormatInt(sessionID, 10)+"/messages", nil, &out)
	return out.Messages, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatclient: decode response: %w", err)
	}
	return nil
}

// send performs the request and turns non-2xx answers into *APIError.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("chatclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("chatclient: build request: %w", err)
	}
	req.Header.Set("X-User-Id", strconv.FormatInt(c.userID, 10))
	req.Header.Set("User-Agent", "codechat-cli")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatclient: %s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr); err != nil {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return nil, apiErr
}
