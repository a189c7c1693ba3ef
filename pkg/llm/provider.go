// Package llm generates the avatar persona's conversational replies.
// Providers keep their own bounded conversation history; the session
// feeds them finalized user turns and speaks the reply through the
// avatar vendor.
package llm

import "context"

// ReplyProvider produces one persona reply per user turn.
type ReplyProvider interface {
	// Name identifies the provider ("openai", "gemini").
	Name() string

	// Reply generates the persona's answer to userText, updating the
	// provider's conversation history.
	Reply(ctx context.Context, userText string) (string, error)

	// ClearHistory drops the conversation history. Used between
	// training sessions.
	ClearHistory()
}

// trimPairs drops the oldest messages once history exceeds max,
// removing whole user/assistant pairs so the transcript stays coherent.
func trimPairs[T any](history []T, max int) []T {
	if max <= 0 || len(history) <= max {
		return history
	}
	excess := len(history) - max
	if excess%2 != 0 {
		excess++
	}
	return history[excess:]
}
