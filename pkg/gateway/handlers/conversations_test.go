package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/convlog"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
)

func seededLog(t *testing.T, n int) *convlog.Log {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log := convlog.New(100, convlog.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	for i := range n {
		log.Record("conv_"+strconv.Itoa(i), convlog.ChannelChat, []types.Message{types.UserMessage("hi")})
	}
	return log
}

func conversationsRouter(h ConversationsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/conversations", h.List)
	r.Get("/api/conversations/{id}", h.Get)
	return r
}

func TestConversationsHandler_ListPaging(t *testing.T) {
	router := conversationsRouter(ConversationsHandler{Conversations: seededLog(t, 5)})

	tests := []struct {
		query string
		ids   []string
	}{
		{query: "", ids: []string{"conv_4", "conv_3", "conv_2", "conv_1", "conv_0"}},
		{query: "?limit=2", ids: []string{"conv_4", "conv_3"}},
		{query: "?limit=2&offset=3", ids: []string{"conv_1", "conv_0"}},
		{query: "?limit=abc&offset=-4", ids: []string{"conv_4", "conv_3", "conv_2", "conv_1", "conv_0"}},
		{query: "?offset=10", ids: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations"+tt.query, nil))
			require.Equal(t, http.StatusOK, rr.Code)

			var body conversationList
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, 5, body.Total)
			ids := []string{}
			for _, c := range body.Conversations {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestConversationsHandler_LimitIsCapped(t *testing.T) {
	router := conversationsRouter(ConversationsHandler{Conversations: seededLog(t, 0)})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations?limit=5000", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"total":0,"conversations":[]}`, rr.Body.String())
}

func TestConversationsHandler_Get(t *testing.T) {
	router := conversationsRouter(ConversationsHandler{Conversations: seededLog(t, 2)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations/conv_1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var conv convlog.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conv))
	assert.Equal(t, "conv_1", conv.ID)
	require.Len(t, conv.Messages, 1)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Conversation not found"}`, rr.Body.String())
}

func TestCallsHandler_ListsSnapshots(t *testing.T) {
	tracker := sessions.NewTracker()
	connected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	unregister := tracker.Register("call_a", sessions.Handle{
		Cancel: func() {},
		Snapshot: func() sessions.Snapshot {
			return sessions.Snapshot{SessionID: "call_a", CallID: "abc", State: "active", ConnectedAt: connected}
		},
	})
	defer unregister()

	rr := httptest.NewRecorder()
	CallsHandler{Calls: tracker}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Total int                 `json:"total"`
		Calls []sessions.Snapshot `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Calls, 1)
	assert.Equal(t, "abc", body.Calls[0].CallID)
}

func TestCallsHandler_EmptyList(t *testing.T) {
	rr := httptest.NewRecorder()
	CallsHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
	assert.JSONEq(t, `{"total":0,"calls":[]}`, rr.Body.String())
}
