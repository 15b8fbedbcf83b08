package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaAdapter serves an http.Handler from a Lambda function URL with
// response streaming enabled. Frames reach the caller as soon as the
// handler flushes them.
type LambdaAdapter struct {
	next http.Handler
}

func NewLambdaAdapter(next http.Handler) (*LambdaAdapter, error) {
	if next == nil {
		return nil, errors.New("handler: http handler must not be nil")
	}
	return &LambdaAdapter{next: next}, nil
}

// Handle runs the request in the background and returns as soon as the
// status line is known; the body keeps streaming through the pipe.
func (a *LambdaAdapter) Handle(ctx context.Context, event *events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	req, err := toHTTPRequest(ctx, event)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := newPipeResponseWriter(pw)
	go func() {
		defer func() {
			w.commit(http.StatusOK)
			_ = pw.Close()
		}()
		a.next.ServeHTTP(w, req)
	}()

	select {
	case <-w.ready:
	case <-ctx.Done():
		_ = pr.CloseWithError(ctx.Err())
		return nil, ctx.Err()
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: w.status,
		Headers:    w.sent,
		Body:       pr,
	}, nil
}

func toHTTPRequest(ctx context.Context, event *events.LambdaFunctionURLRequest) (*http.Request, error) {
	if event == nil {
		return nil, errors.New("handler: nil function url request")
	}
	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, err
		}
		body = string(decoded)
	}

	path := event.RawPath
	if path == "" {
		path = "/"
	}
	target := path
	if event.RawQueryString != "" {
		target += "?" + event.RawQueryString
	}
	method := event.RequestContext.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range event.Headers {
		req.Header.Set(k, v)
	}
	for _, cookie := range event.Cookies {
		req.Header.Add("Cookie", cookie)
	}
	req.RemoteAddr = event.RequestContext.HTTP.SourceIP
	req.Host = event.RequestContext.DomainName
	return req, nil
}

// pipeResponseWriter is an http.ResponseWriter whose body is an io.Pipe.
// Writes block until the Lambda runtime reads them.
type pipeResponseWriter struct {
	header http.Header
	pw     *io.PipeWriter

	once   sync.Once
	ready  chan struct{}
	status int
	sent   map[string]string
}

func newPipeResponseWriter(pw *io.PipeWriter) *pipeResponseWriter {
	return &pipeResponseWriter{
		header: make(http.Header),
		pw:     pw,
		ready:  make(chan struct{}),
	}
}

func (w *pipeResponseWriter) Header() http.Header {
	return w.header
}

func (w *pipeResponseWriter) WriteHeader(status int) {
	w.commit(status)
}

func (w *pipeResponseWriter) Write(p []byte) (int, error) {
	w.commit(http.StatusOK)
	return w.pw.Write(p)
}

// Flush is a no-op: every Write already hands bytes to the reader.
func (w *pipeResponseWriter) Flush() {
	w.commit(http.StatusOK)
}

// commit snapshots status and headers the first time it is called.
func (w *pipeResponseWriter) commit(status int) {
	w.once.Do(func() {
		w.status = status
		w.sent = make(map[string]string, len(w.header))
		for k, v := range w.header {
			w.sent[k] = strings.Join(v, ",")
		}
		close(w.ready)
	})
}
