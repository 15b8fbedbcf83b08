package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"codechat/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// NoResponseText is what Complete returns when the provider answers without
// any content. Callers get a displayable reply instead of an error; the
// cost is that an empty generation is indistinguishable from a real answer
// with that text, so it is persisted like any other reply.
const NoResponseText = "No response generated."

// Stream error messages passed to StreamSink.OnError.
const (
	msgIdleTimeout    = "stream idle timeout"
	msgRateLimited    = "rate limited"
	msgNoContent      = "no response generated"
	msgProviderFailed = "provider request failed"
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// KeySource yields the provider credential.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a credential supplied directly through configuration.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", errors.New("openai: API token is empty")
	}
	return string(k), nil
}

// ParamStoreKey reads the credential from an SSM parameter holding
// {"token": "..."}.
type ParamStoreKey struct {
	Getter Getter
	Name   string
}

func (k ParamStoreKey) APIKey(ctx context.Context) (string, error) {
	return fetchAPIKeyFromParamStore(ctx, k.Getter, k.Name)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// Config holds the per-deployment generation settings.
type Config struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int

	// RequestTimeout bounds a blocking Complete call. Zero disables it.
	RequestTimeout time.Duration

	// IdleTimeout aborts a stream when no chunk arrives for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

// Client is the completion client for an OpenAI-compatible provider.
type Client struct {
	keys       KeySource
	cfg        Config
	baseURL    string
	httpClient *http.Client

	apiMu  sync.Mutex
	api    *goopenai.Client
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. The credential is looked up on every
// completion call; caching it is up to the KeySource.
func NewClient(keys KeySource, cfg Config, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if cfg.MaxOutputTokens < 0 {
		return nil, errors.New("openai: max output tokens must not be negative")
	}
	c := &Client{
		keys:    keys,
		cfg:     cfg,
		baseURL: defaultBaseURL,
		// No client-wide timeout: it would also cut off long streams.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// resolveAPI returns the SDK client for the current credential. The client
// is rebuilt only when the key changes, so a rotated parameter takes effect
// once the key source stops serving the old value.
func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	c.apiMu.Lock()
	defer c.apiMu.Unlock()
	if c.api != nil && c.apiKey == key {
		return c.api, nil
	}
	conf := goopenai.DefaultConfig(key)
	conf.BaseURL = apiBaseURL(c.baseURL)
	if c.httpClient != nil {
		conf.HTTPClient = c.httpClient
	}
	c.api = goopenai.NewClientWithConfig(conf)
	c.apiKey = key
	return c.api, nil
}

// apiBaseURL normalizes a configured base URL to the /v1 root the SDK expects.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (c *Client) request(messages []domain.PromptMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(messages)),
		Temperature: c.cfg.Temperature,
	}
	// The SDK omits a zero temperature, which the provider reads as 1.0.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}
	if c.cfg.MaxOutputTokens > 0 {
		req.MaxCompletionTokens = c.cfg.MaxOutputTokens
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

// Complete sends the full prompt and waits for the finished reply.
//
// An answer without content is not an error: the returned Completion
// carries NoResponseText.
func (c *Client) Complete(ctx context.Context, messages []domain.PromptMessage) (domain.Completion, error) {
	if len(messages) == 0 {
		return domain.Completion{}, errors.New("openai: messages must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Completion{}, err
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := api.CreateChatCompletion(ctx, c.request(messages))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openai: request failed: %w", statusError(err))
	}

	out := domain.Completion{
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	if strings.TrimSpace(out.Text) == "" {
		out.Text = NoResponseText
	}
	return out, nil
}

// CompleteStream opens a token stream and reports it to sink. Every delta
// goes to OnDelta in arrival order; the stream then ends with exactly one
// of OnDone or OnError. If OnDelta returns an error the stream is abandoned
// and neither terminal callback is made.
func (c *Client) CompleteStream(ctx context.Context, messages []domain.PromptMessage, sink domain.StreamSink) {
	if len(messages) == 0 {
		sink.OnError(msgProviderFailed)
		return
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		sink.OnError(msgProviderFailed)
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	var timer *time.Timer
	if c.cfg.IdleTimeout > 0 {
		timer = time.AfterFunc(c.cfg.IdleTimeout, func() {
			idle.Store(true)
			cancel()
		})
		defer timer.Stop()
	}
	fail := func(err error) {
		if idle.Load() {
			sink.OnError(msgIdleTimeout)
			return
		}
		sink.OnError(streamErrorMessage(err))
	}

	req := c.request(messages)
	req.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	stream, err := api.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		fail(err)
		return
	}
	defer stream.Close()

	meta := domain.Completion{Model: c.cfg.Model}
	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(err)
			return
		}
		if timer != nil {
			timer.Reset(c.cfg.IdleTimeout)
		}
		if chunk.Model != "" {
			meta.Model = chunk.Model
		}
		if chunk.Usage != nil {
			meta.Usage = domain.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.FinishReason != "" {
				meta.FinishReason = string(choice.FinishReason)
			}
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			if err := sink.OnDelta(delta); err != nil {
				return
			}
		}
	}
	if idle.Load() {
		sink.OnError(msgIdleTimeout)
		return
	}
	if full.Len() == 0 {
		sink.OnError(msgNoContent)
		return
	}
	meta.Text = full.String()
	sink.OnDone(meta.Text, meta)
}

// statusError converts SDK errors carrying an HTTP status into *HTTPStatusError.
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return err
}

func streamErrorMessage(err error) string {
	var se *HTTPStatusError
	if errors.As(statusError(err), &se) && se.StatusCode == http.StatusTooManyRequests {
		return msgRateLimited
	}
	return msgProviderFailed
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
