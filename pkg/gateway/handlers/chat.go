package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/callbridge/internal/telemetry"
	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/convlog"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
	"github.com/vango-go/callbridge/pkg/gateway/mw"
)

const (
	chatFallbackReply   = "I'm sorry, I couldn't generate a response."
	chatMissingKey      = "Server misconfigured: missing API key."
	chatMessagesMissing = "Messages array is required."
	chatUpstreamFailed  = "AI service temporarily unavailable."
	chatInvalidJSON     = "Invalid JSON body."
	chatBodyTooLarge    = "Request body too large."
)

// ChatCompleter runs one completion to the end. *core.Engine satisfies it.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []types.Message) (string, error)
}

// ChatHandler relays website chat to the model and returns the whole reply.
type ChatHandler struct {
	Engine          ChatCompleter
	Provider        string
	KeyConfigured   bool
	Conversations   *convlog.Log
	Metrics         *metrics.Metrics
	Logger          zerolog.Logger
	Tracer          trace.Tracer
	MaxBodyBytes    int64
	MaxMessages     int
	MaxMessageRunes int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// chatRequest accepts the full-transcript shape and the older
// message-plus-history shape.
type chatRequest struct {
	Messages       []chatMessage `json:"messages"`
	ConversationID string        `json:"conversationId"`
	Message        string        `json:"message"`
	History        []chatMessage `json:"history"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.KeyConfigured || h.Engine == nil {
		mw.WriteError(w, http.StatusInternalServerError, chatMissingKey)
		return
	}

	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			mw.WriteError(w, http.StatusRequestEntityTooLarge, chatBodyTooLarge)
			return
		}
		mw.WriteError(w, http.StatusBadRequest, chatInvalidJSON)
		return
	}

	raw := req.Messages
	if len(raw) == 0 && strings.TrimSpace(req.Message) != "" {
		raw = append(append([]chatMessage(nil), req.History...), chatMessage{Role: types.RoleUser, Content: req.Message})
	}
	if len(raw) == 0 {
		mw.WriteError(w, http.StatusBadRequest, chatMessagesMissing)
		return
	}
	messages := cleanChatMessages(raw, h.MaxMessages, h.MaxMessageRunes)

	tracer := h.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	ctx, span := tracer.Start(r.Context(), "chat.completion", trace.WithAttributes(
		attribute.String(telemetry.ChannelKey, "chat"),
		attribute.String(telemetry.ProviderKey, h.Provider),
		attribute.Int(telemetry.MessageCountKey, len(messages)),
		attribute.String(telemetry.ConversationKey, req.ConversationID),
	))
	defer span.End()

	reqID, _ := mw.RequestIDFrom(r.Context())
	reply, err := h.Engine.Complete(ctx, messages)
	if err != nil {
		errType := core.ErrorTypeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.Metrics.RecordChatCompletion("error")
		h.Metrics.RecordError(h.Provider, string(errType))
		h.Logger.Warn().Err(err).
			Str("request_id", reqID).
			Str("error_type", string(errType)).
			Str("conversation_id", req.ConversationID).
			Msg("chat completion failed")
		mw.WriteError(w, http.StatusBadGateway, chatUpstreamFailed)
		return
	}

	status := "ok"
	if strings.TrimSpace(reply) == "" {
		reply = chatFallbackReply
		status = "empty"
	}
	h.Metrics.RecordChatCompletion(status)
	span.SetAttributes(attribute.Int(telemetry.ReplyLengthKey, len(reply)))

	id := h.Conversations.Record(req.ConversationID, convlog.ChannelChat, append(messages, types.AssistantMessage(reply)))
	h.Logger.Info().
		Str("request_id", reqID).
		Str("conversation_id", id).
		Int("messages", len(messages)).
		Int("reply_chars", len(reply)).
		Msg("chat completion")

	mw.WriteJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// cleanChatMessages keeps the last maxMessages entries, maps every role
// other than assistant to user, and caps each content at maxRunes.
func cleanChatMessages(in []chatMessage, maxMessages, maxRunes int) []types.Message {
	if maxMessages > 0 && len(in) > maxMessages {
		in = in[len(in)-maxMessages:]
	}
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		out = append(out, types.Message{
			Role:    types.NormalizeRole(m.Role),
			Content: capRunes(contentString(m.Content), maxRunes),
		})
	}
	return out
}

func capRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	return types.TruncateRunes(s, n)
}

func contentString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
