// Package sse implements the chat stream wire framing: each frame is the
// literal prefix "data: ", one line of JSON, and a blank line.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codechat/internal/domain"
)

const (
	dataPrefix = "data: "
	delimiter  = "\n\n"
)

// ErrNoData is returned by Decode for frames without a data line
// (comments or keep-alives).
var ErrNoData = errors.New("sse: frame has no data line")

// Encode renders one event as a complete frame.
func Encode(event domain.StreamEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("sse: marshal event: %w", err)
	}
	out := make([]byte, 0, len(dataPrefix)+len(payload)+len(delimiter))
	out = append(out, dataPrefix...)
	out = append(out, payload...)
	out = append(out, delimiter...)
	return out, nil
}

// ExtractFrames splits buf on blank-line boundaries. Complete frames are
// returned without their delimiter; the trailing partial frame, if any, is
// returned as remainder and must be prepended to the next network chunk.
func ExtractFrames(buf []byte) (frames []string, remainder []byte) {
	for {
		idx := bytes.Index(buf, []byte(delimiter))
		if idx < 0 {
			break
		}
		if frame := string(buf[:idx]); strings.TrimSpace(frame) != "" {
			frames = append(frames, frame)
		}
		buf = buf[idx+len(delimiter):]
	}
	remainder = make([]byte, len(buf))
	copy(remainder, buf)
	return frames, remainder
}

// Decode parses a frame produced by ExtractFrames. Multiple data lines are
// joined with a newline; comment lines (":") are ignored.
func Decode(frame string) (domain.StreamEvent, error) {
	var data []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, dataPrefix):
			data = append(data, strings.TrimPrefix(line, dataPrefix))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line, "data:"))
		}
	}
	if len(data) == 0 {
		return domain.StreamEvent{}, ErrNoData
	}
	var event domain.StreamEvent
	if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &event); err != nil {
		return domain.StreamEvent{}, fmt.Errorf("sse: decode frame: %w", err)
	}
	return event, nil
}
