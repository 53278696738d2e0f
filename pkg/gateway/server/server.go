// Package server wires the HTTP routes of the call bridge.
package server

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/convlog"
	"github.com/vango-go/callbridge/pkg/gateway/handlers"
	"github.com/vango-go/callbridge/pkg/gateway/lifecycle"
	"github.com/vango-go/callbridge/pkg/gateway/live/session"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/live/transfer"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
	"github.com/vango-go/callbridge/pkg/gateway/mw"
)

// Dependencies are the long-lived components shared by every request.
// Nil trackers and logs are created on demand.
type Dependencies struct {
	VoiceEngine   session.Completer
	ChatEngine    handlers.ChatCompleter
	Provider      string
	Policy        transfer.Policy
	Metrics       *metrics.Metrics
	Lifecycle     *lifecycle.Lifecycle
	Calls         *sessions.Tracker
	Conversations *convlog.Log
}

type Server struct {
	cfg    config.Config
	logger zerolog.Logger
	deps   Dependencies
	router chi.Router
}

func New(cfg config.Config, logger zerolog.Logger, deps Dependencies) *Server {
	if deps.Calls == nil {
		deps.Calls = sessions.NewTracker()
	}
	if deps.Conversations == nil {
		deps.Conversations = convlog.New(cfg.ConversationLogSize)
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.Policy == nil {
		deps.Policy = transfer.NewPhrasePolicy(cfg.TransferNumber, cfg.TransferPhrases, cfg.EndCallPhrases)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(mw.RequestID)
	r.Use(func(next http.Handler) http.Handler { return mw.AccessLog(s.logger, s.deps.Metrics, next) })
	r.Use(func(next http.Handler) http.Handler { return mw.Recover(s.logger, next) })
	r.Use(mw.CORS(s.cfg.AllowedOrigins))

	r.NotFound(handlers.NotFoundHandler{}.ServeHTTP)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		mw.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Method(http.MethodGet, "/health", handlers.HealthHandler{})
	r.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Calls:     s.deps.Calls,
	})
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	live := handlers.LiveHandler{
		Config:        s.cfg,
		Engine:        s.deps.VoiceEngine,
		Provider:      s.deps.Provider,
		Policy:        s.deps.Policy,
		Logger:        s.logger,
		Metrics:       s.deps.Metrics,
		Lifecycle:     s.deps.Lifecycle,
		Calls:         s.deps.Calls,
		Conversations: s.deps.Conversations,
	}
	r.Method(http.MethodGet, "/llm-websocket/{"+handlers.CallIDParam+"}", live)
	r.Method(http.MethodGet, "/llm-websocket", live)

	r.Group(func(r chi.Router) {
		if s.cfg.HandlerTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.HandlerTimeout))
		}
		r.Use(mw.RateLimit(mw.RateLimitConfig{
			Limit:             s.cfg.ChatRateLimit,
			Window:            s.cfg.ChatRateWindow,
			TrustProxyHeaders: s.cfg.TrustProxyHeaders,
			Name:              "chat",
			Metrics:           s.deps.Metrics,
		}))
		r.Method(http.MethodPost, "/api/chat", handlers.ChatHandler{
			Engine:          s.deps.ChatEngine,
			Provider:        s.deps.Provider,
			KeyConfigured:   s.cfg.APIKey() != "",
			Conversations:   s.deps.Conversations,
			Metrics:         s.deps.Metrics,
			Logger:          s.logger,
			MaxBodyBytes:    s.cfg.ChatMaxBodyBytes,
			MaxMessages:     s.cfg.ChatMaxMessages,
			MaxMessageRunes: s.cfg.ChatMaxMessageRunes,
		})
	})

	if s.cfg.AdminEnabled() {
		r.Group(func(r chi.Router) {
			r.Use(mw.AdminAuth(s.cfg.AdminPassword))
			conversations := handlers.ConversationsHandler{Conversations: s.deps.Conversations}
			r.Get("/api/conversations", conversations.List)
			r.Get("/api/conversations/{id}", conversations.Get)
			r.Method(http.MethodGet, "/api/calls", handlers.CallsHandler{Calls: s.deps.Calls})
		})
	}

	if dir := s.cfg.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			s.logger.Debug().Str("dir", dir).Msg("static directory not found; widget assets disabled")
		}
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetDraining makes /readyz fail and turns away new calls.
func (s *Server) SetDraining() {
	s.deps.Lifecycle.SetDraining(true)
}

// Calls returns the tracker of connected calls, for draining on shutdown.
func (s *Server) Calls() *sessions.Tracker {
	return s.deps.Calls
}

// Conversations returns the shared conversation log.
func (s *Server) Conversations() *convlog.Log {
	return s.deps.Conversations
}
