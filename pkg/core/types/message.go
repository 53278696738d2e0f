// Package types holds the provider-neutral conversation shapes.
package types

import "strings"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged utterance in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage returns a user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage returns an assistant message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// NormalizeRole maps any role other than assistant to user.
func NormalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAssistant) {
		return RoleAssistant
	}
	return RoleUser
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Alternating shapes a transcript for APIs that require strict user/assistant
// alternation starting with the user: blank messages are dropped, consecutive
// same-role messages are merged with a newline, and a transcript opening with
// the assistant gets a leading user "Hello". A transcript left empty after
// dropping blanks becomes a single user "Hello".
func Alternating(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, msg := range in {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := NormalizeRole(msg.Role)
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + content
			continue
		}
		out = append(out, Message{Role: role, Content: content})
	}
	if len(out) == 0 {
		return []Message{UserMessage("Hello")}
	}
	if out[0].Role == RoleAssistant {
		out = append([]Message{UserMessage("Hello")}, out...)
	}
	return out
}
