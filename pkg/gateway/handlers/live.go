package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/convlog"
	"github.com/vango-go/callbridge/pkg/gateway/lifecycle"
	"github.com/vango-go/callbridge/pkg/gateway/live/protocol"
	"github.com/vango-go/callbridge/pkg/gateway/live/session"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/live/transfer"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
	"github.com/vango-go/callbridge/pkg/gateway/mw"
)

// CallIDParam is the route parameter carrying the platform's call id.
const CallIDParam = "call_id"

// LiveHandler upgrades the platform's custom-LLM connection and runs one
// call session over it.
type LiveHandler struct {
	Config        config.Config
	Engine        session.Completer
	Provider      string
	Policy        transfer.Policy
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Lifecycle     *lifecycle.Lifecycle
	Calls         *sessions.Tracker
	Conversations *convlog.Log
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		h.Metrics.RecordCallRejected("draining")
		mw.WriteError(w, http.StatusServiceUnavailable, "Server is shutting down.")
		return
	}
	limit := h.Config.VoiceMaxConcurrentCalls
	if limit > 0 && h.Calls.Count() >= limit {
		h.Metrics.RecordCallRejected("capacity")
		mw.WriteError(w, http.StatusServiceUnavailable, "Too many active calls.")
		return
	}
	if !h.originAllowed(r) {
		h.Metrics.RecordCallRejected("origin")
		mw.WriteError(w, http.StatusForbidden, "Origin not allowed.")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	reqID, _ := mw.RequestIDFrom(r.Context())
	sessionID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	callID := strings.TrimSpace(chi.URLParam(r, CallIDParam))

	sess, err := session.New(session.Dependencies{
		Conn:      conn,
		Completer: h.Engine,
		Provider:  h.Provider,
		Policy:    h.Policy,
		Logger:    h.Logger,
		Metrics:   h.Metrics,
		SessionID: sessionID,
		RequestID: reqID,
		CallID:    callID,
		Config:    voiceSessionConfig(h.Config),
		OnClose:   h.recordCall,
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("session_id", sessionID).Msg("create call session")
		closeWithCode(conn, websocket.CloseInternalServerErr, "session unavailable")
		return
	}

	unregister, ok := h.Calls.TryRegister(sessionID, sessions.Handle{
		Cancel:   sess.Cancel,
		Snapshot: sess.Snapshot,
	}, limit)
	if !ok {
		h.Metrics.RecordCallRejected("capacity")
		closeWithCode(conn, websocket.CloseTryAgainLater, "too many active calls")
		return
	}
	defer unregister()

	if err := sess.Run(); err != nil {
		h.Logger.Debug().Err(err).Str("session_id", sessionID).Msg("call session ended with error")
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.Config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// recordCall stores the finished call in the conversation log.
func (h LiveHandler) recordCall(rec session.CallRecord) {
	messages := callTranscript(rec)
	if len(messages) == 0 {
		return
	}
	id := rec.Call.CallID
	if id == "" {
		id = rec.SessionID
	}
	h.Conversations.Record(id, convlog.ChannelVoice, messages)
}

// callTranscript maps the platform transcript to chat roles and appends the
// last completed reply when the platform had not echoed it back yet.
func callTranscript(rec session.CallRecord) []types.Message {
	messages := make([]types.Message, 0, len(rec.Transcript)+1)
	for _, u := range rec.Transcript {
		if strings.TrimSpace(u.Content) == "" {
			continue
		}
		role := types.RoleUser
		if strings.EqualFold(u.Role, protocol.RoleAgent) {
			role = types.RoleAssistant
		}
		messages = append(messages, types.Message{Role: role, Content: u.Content})
	}
	if n := len(rec.Turns); n > 0 {
		last := rec.Turns[n-1]
		reply := strings.TrimSpace(last.Reply())
		if last.Status == session.TurnCompleted && reply != "" {
			if len(messages) == 0 || strings.TrimSpace(messages[len(messages)-1].Content) != reply {
				messages = append(messages, types.AssistantMessage(reply))
			}
		}
	}
	return messages
}

func voiceSessionConfig(cfg config.Config) session.Config {
	return session.Config{
		ProactiveGreeting: cfg.GreetingMode == config.GreetingProactive,
		Greeting:          cfg.Greeting,
		SendConfigFrame:   cfg.SendConfigFrame,
		AutoReconnect:     cfg.AutoReconnect,
		TransferNumber:    cfg.TransferNumber,
		Apology:           cfg.Apology,
		MaxPendingTurns:   cfg.VoiceMaxPendingTurns,
		TurnTimeout:       cfg.VoiceTurnTimeout,
		InboundFPS:        cfg.VoiceInboundFPS,
		InboundBurst:      cfg.VoiceInboundBurst,
		MaxFrameBytes:     cfg.VoiceMaxFrameBytes,
		PingInterval:      cfg.WSPingInterval,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadTimeout:       cfg.WSReadTimeout,
	}
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = conn.Close()
}
