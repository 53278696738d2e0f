package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vango-go/callbridge/pkg/gateway/convlog"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/mw"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ConversationsHandler serves the admin view of the conversation log.
type ConversationsHandler struct {
	Conversations *convlog.Log
}

type conversationList struct {
	Total         int                    `json:"total"`
	Conversations []convlog.Conversation `json:"conversations"`
}

// List returns conversations, most recently active first.
func (h ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	total, page := h.Conversations.List(limit, offset)
	if page == nil {
		page = []convlog.Conversation{}
	}
	mw.WriteJSON(w, http.StatusOK, conversationList{Total: total, Conversations: page})
}

func (h ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.Conversations.Get(chi.URLParam(r, "id"))
	if !ok {
		mw.WriteError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	mw.WriteJSON(w, http.StatusOK, conv)
}

// CallsHandler lists the calls currently connected.
type CallsHandler struct {
	Calls *sessions.Tracker
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	calls := h.Calls.Snapshots()
	if calls == nil {
		calls = []sessions.Snapshot{}
	}
	mw.WriteJSON(w, http.StatusOK, map[string]any{
		"total": len(calls),
		"calls": calls,
	})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
