package handlers

import (
	"net/http"
	"time"

	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/lifecycle"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/mw"
)

// isoMillis matches the millisecond UTC timestamps the widget already parses.
const isoMillis = "2006-01-02T15:04:05.000Z"

type HealthHandler struct {
	Now func() time.Time
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	mw.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": now().UTC().Format(isoMillis),
	})
}

// ReadyHandler reports whether the process should receive new calls.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Calls     *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool   `json:"ok"`
		Draining      bool   `json:"draining"`
		DrainingSince string `json:"draining_since,omitempty"`
		Provider      string `json:"provider"`
		KeyConfigured bool   `json:"key_configured"`
		ActiveCalls   int    `json:"active_calls"`
	}

	// A missing key does not fail readiness: calls still connect and fail
	// over to a human.
	since := h.Lifecycle.DrainingSince()
	draining := !since.IsZero()
	status := http.StatusOK
	var sinceText string
	if draining {
		status = http.StatusServiceUnavailable
		sinceText = since.UTC().Format(isoMillis)
	}
	mw.WriteJSON(w, status, readyResp{
		OK:            !draining,
		Draining:      draining,
		DrainingSince: sinceText,
		Provider:      h.Config.Provider,
		KeyConfigured: h.Config.APIKey() != "",
		ActiveCalls:   h.Calls.Count(),
	})
}
