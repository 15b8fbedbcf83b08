package handler

import (
	"errors"
	"io"
	"net/http"

	"codechat/internal/domain"
	"codechat/internal/sse"
	"codechat/internal/usecase"
)

var (
	errSinkClosed       = errors.New("handler: event sink closed")
	errFlushUnsupported = errors.New("handler: response writer does not support flushing")
)

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sseSink writes each event as one data frame and flushes it immediately.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok || !canFlush(w) {
		return nil, errFlushUnsupported
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

// canFlush reports whether the innermost writer flushes. Wrappers such as
// gin's implement http.Flusher unconditionally and delegate to it.
func canFlush(w http.ResponseWriter) bool {
	for {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			break
		}
		w = u.Unwrap()
	}
	_, ok := w.(http.Flusher)
	return ok
}

func (s *sseSink) Send(ev domain.StreamEvent) error {
	if s.closed {
		return errSinkClosed
	}
	frame, err := sse.Encode(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the stream finished. The response body itself is closed by
// the HTTP server when the handler returns.
func (s *sseSink) Close() error {
	s.closed = true
	return nil
}

var _ usecase.EventSink = (*sseSink)(nil)
