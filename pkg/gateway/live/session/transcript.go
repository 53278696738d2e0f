package session

import (
	"strings"

	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/live/protocol"
)

const (
	// GreetingSeed stands in for a transcript with nothing said yet.
	GreetingSeed = "Hello"

	// SilenceCheckPrompt is appended to reminder turns.
	SilenceCheckPrompt = "[The caller has been silent for a while. Briefly and warmly check whether they are still there or if there is anything else you can help with.]"
)

// Reduce rebuilds the request messages from the platform's full transcript.
// It keeps no state between calls; the transcript is authoritative. A
// transcript with no non-blank utterance is replaced by the greeting seed.
func Reduce(transcript []protocol.Utterance, reminder bool) []types.Message {
	messages := make([]types.Message, 0, len(transcript)+2)
	spoken := false
	for _, u := range transcript {
		if strings.TrimSpace(u.Content) != "" {
			spoken = true
		}
		messages = append(messages, types.Message{Role: mapRole(u.Role), Content: u.Content})
	}
	if !spoken {
		messages = append(messages[:0], types.UserMessage(GreetingSeed))
	}
	if reminder {
		messages = append(messages, types.UserMessage(SilenceCheckPrompt))
	}
	return messages
}

func mapRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), protocol.RoleAgent) {
		return types.RoleAssistant
	}
	return types.RoleUser
}
