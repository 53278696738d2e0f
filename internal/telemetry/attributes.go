package telemetry

import "go.opentelemetry.io/otel/attribute"

const (
	CallIDKey       = "call.id"
	ResponseIDKey   = "call.response_id"
	TurnKindKey     = "turn.kind"
	TurnStatusKey   = "turn.status"
	TransferKey     = "turn.transfer"
	ProviderKey     = "llm.provider"
	ChannelKey      = "llm.channel"
	MessageCountKey = "llm.message_count"
	ReplyLengthKey  = "llm.reply_chars"
	ConversationKey = "chat.conversation_id"
	ErrorTypeKey    = "error.type"
)

// TurnAttributes describes a voice turn at start.
func TurnAttributes(callID string, responseID int64, kind string, messages int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(ResponseIDKey, responseID),
		attribute.String(TurnKindKey, kind),
		attribute.Int(MessageCountKey, messages),
	}
	if callID != "" {
		attrs = append(attrs, attribute.String(CallIDKey, callID))
	}
	return attrs
}

// TurnResultAttributes describes how a voice turn ended.
func TurnResultAttributes(status string, transfer bool, replyChars int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TurnStatusKey, status),
		attribute.Bool(TransferKey, transfer),
		attribute.Int(ReplyLengthKey, replyChars),
	}
}
