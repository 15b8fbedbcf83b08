package usecase

import (
	"strings"
	"unicode/utf8"

	"codechat/internal/domain"
)

const (
	titleMaxRunes = 30
	titleEllipsis = "..."
	defaultPrompt = "You are an expert programming assistant. Answer questions about code clearly and " +
		"accurately. Prefer short explanations followed by idiomatic examples in fenced code blocks. " +
		"If a question is ambiguous, state your assumptions. If you do not know, say so."
)

// buildPromptMessages assembles system instruction, the most recent window
// of caller-supplied history and the new user message, in that order.
func buildPromptMessages(systemPrompt string, history []domain.HistoryTurn, window int, message string) []domain.PromptMessage {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	messages := make([]domain.PromptMessage, 0, len(history)+2)
	messages = append(messages, domain.PromptMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		messages = append(messages, domain.PromptMessage{Role: turn.Sender.Role(), Content: turn.Content})
	}
	return append(messages, domain.PromptMessage{Role: domain.RoleUser, Content: message})
}

// sessionTitle derives a session title from the first user message.
func sessionTitle(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(message) <= titleMaxRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:titleMaxRunes]) + titleEllipsis
}
