package chatclient

import (
	"bytes"
	"errors"
	"io"

	"codechat/internal/domain"
	"codechat/internal/sse"
)

var (
	// ErrFrameAfterTerminal means the server sent a frame after done or error.
	ErrFrameAfterTerminal = errors.New("chatclient: frame after terminal frame")
	// ErrUnterminated means the body ended before a terminal frame.
	ErrUnterminated = errors.New("chatclient: stream ended without terminal frame")
)

const readChunk = 4096

// Reader decodes a chat event stream read in arbitrary chunks.
type Reader struct {
	r       io.Reader
	chunk   []byte
	buf     []byte
	pending []string
	done    bool
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, chunk: make([]byte, readChunk)}
}

// Next returns the next event. After the terminal event it returns io.EOF
// once the body is exhausted.
func (r *Reader) Next() (domain.StreamEvent, error) {
	for {
		if len(r.pending) > 0 {
			frame := r.pending[0]
			r.pending = r.pending[1:]
			ev, err := sse.Decode(frame)
			if errors.Is(err, sse.ErrNoData) {
				continue
			}
			if err != nil {
				return domain.StreamEvent{}, err
			}
			if r.done {
				return domain.StreamEvent{}, ErrFrameAfterTerminal
			}
			r.done = ev.Terminal()
			return ev, nil
		}

		if r.err != nil {
			if !errors.Is(r.err, io.EOF) {
				return domain.StreamEvent{}, r.err
			}
			if len(bytes.TrimSpace(r.buf)) > 0 {
				return domain.StreamEvent{}, io.ErrUnexpectedEOF
			}
			if !r.done {
				return domain.StreamEvent{}, ErrUnterminated
			}
			return domain.StreamEvent{}, io.EOF
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending, r.buf = sse.ExtractFrames(append(r.buf, r.chunk[:n]...))
		}
		if err != nil {
			r.err = err
		}
	}
}
