// Package tokenizer estimates prompt and completion token counts for
// providers that do not report usage.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"codechat/internal/domain"
)

const fallbackEncoding = "cl100k_base"

// Chat-format overhead per message and for the assistant reply primer.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

type encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// Counter counts tokens with the encoding matching a model, falling back
// to cl100k_base for models tiktoken does not know. Encodings are loaded
// lazily and cached.
type Counter struct {
	mu        sync.Mutex
	encodings map[string]encoder
	load      func(model string) (encoder, error)
}

func New() *Counter {
	return &Counter{
		encodings: make(map[string]encoder),
		load:      loadEncoding,
	}
}

func loadEncoding(model string) (encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding for %q: %w", model, err)
	}
	return enc, nil
}

func (c *Counter) encoding(model string) (encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[model]; ok {
		return enc, nil
	}
	enc, err := c.load(model)
	if err != nil {
		return nil, err
	}
	c.encodings[model] = enc
	return enc, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(model, text string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages estimates the prompt size of a chat request.
func (c *Counter) CountMessages(model string, messages []domain.PromptMessage) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	total := tokensPerReply
	for _, m := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}
