package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/live/protocol"
)

func requireTCPListen(t testing.TB) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: TCP listen not permitted in this environment: %v", err)
	}
	ln.Close()
}

type completerFunc func(ctx context.Context, messages []types.Message) (core.TextStream, error)

func (f completerFunc) StreamText(ctx context.Context, messages []types.Message) (core.TextStream, error) {
	return f(ctx, messages)
}

type sliceStream struct {
	chunks []string
	err    error
	i      int
}

func (s *sliceStream) Next() (string, error) {
	if s.i < len(s.chunks) {
		s.i++
		return s.chunks[s.i-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error { return nil }

// blockingStream never yields; Next returns once ctx ends.
type blockingStream struct {
	ctx context.Context
}

func (s blockingStream) Next() (string, error) {
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s blockingStream) Close() error { return nil }

func replyWith(chunks ...string) completerFunc {
	return func(context.Context, []types.Message) (core.TextStream, error) {
		return &sliceStream{chunks: chunks}, nil
	}
}

type wireFrame struct {
	ResponseType    string               `json:"response_type"`
	ResponseID      int64                `json:"response_id"`
	Content         string               `json:"content"`
	ContentComplete bool                 `json:"content_complete"`
	EndCall         bool                 `json:"end_call"`
	TransferNumber  *string              `json:"transfer_number"`
	Timestamp       json.Number          `json:"timestamp"`
	Config          *protocol.ConfigBody `json:"config"`
	raw             string
}

type liveHarness struct {
	client  *websocket.Conn
	session chan *LiveSession
	done    chan error
	records chan CallRecord
}

func startLiveSession(t *testing.T, completer Completer, cfg Config) *liveHarness {
	t.Helper()
	requireTCPListen(t)

	h := &liveHarness{
		session: make(chan *LiveSession, 1),
		done:    make(chan error, 1),
		records: make(chan CallRecord, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s, err := New(Dependencies{
			Conn:      conn,
			Completer: completer,
			Provider:  "fake",
			Logger:    zerolog.Nop(),
			SessionID: "sess_test",
			CallID:    "call_test",
			Config:    cfg,
			OnClose:   func(rec CallRecord) { h.records <- rec },
		})
		if err != nil {
			t.Errorf("New() error: %v", err)
			conn.Close()
			return
		}
		h.session <- s
		h.done <- s.Run()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/llm-websocket/call_test"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	h.client = client
	return h
}

func (h *liveHarness) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, h.client.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (h *liveHarness) read(t *testing.T) wireFrame {
	t.Helper()
	require.NoError(t, h.client.SetReadDeadline(time.Now().Add(3*time.Second)))
	messageType, data, err := h.client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	var f wireFrame
	require.NoError(t, json.Unmarshal(data, &f))
	f.raw = string(data)
	return f
}

func (h *liveHarness) hangUp(t *testing.T) error {
	t.Helper()
	_ = h.client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after hang up")
		return nil
	}
}

func (h *liveHarness) record(t *testing.T) CallRecord {
	t.Helper()
	select {
	case rec := <-h.records:
		return rec
	case <-time.After(3 * time.Second):
		t.Fatalf("no call record")
		return CallRecord{}
	}
}

func TestLiveSession_ProactiveGreetingFollowsConfigFrame(t *testing.T) {
	h := startLiveSession(t, replyWith("unused"), Config{
		SendConfigFrame:   true,
		AutoReconnect:     true,
		ProactiveGreeting: true,
		Greeting:          "Thanks for calling! How can I help?",
	})

	cfgFrame := h.read(t)
	assert.Equal(t, protocol.ResponseTypeConfig, cfgFrame.ResponseType)
	require.NotNil(t, cfgFrame.Config)
	assert.True(t, cfgFrame.Config.AutoReconnect)
	assert.True(t, cfgFrame.Config.CallDetails)

	greeting := h.read(t)
	assert.Equal(t, protocol.ResponseTypeResponse, greeting.ResponseType)
	assert.EqualValues(t, 0, greeting.ResponseID)
	assert.Equal(t, "Thanks for calling! How can I help?", greeting.Content)
	assert.True(t, greeting.ContentComplete)
	assert.False(t, greeting.EndCall)
	assert.Nil(t, greeting.TransferNumber)

	require.NoError(t, h.hangUp(t))
	rec := h.record(t)
	assert.Equal(t, "call_test", rec.Call.CallID)
	assert.Empty(t, rec.Turns)
}

func TestLiveSession_WaitModeAnswersPingFirst(t *testing.T) {
	h := startLiveSession(t, replyWith("unused"), Config{Greeting: "Hello there"})

	h.send(t, `{"interaction_type":"ping_pong","timestamp":1700000000123}`)
	pong := h.read(t)
	assert.Equal(t, protocol.ResponseTypePingPong, pong.ResponseType)
	assert.Contains(t, pong.raw, `"timestamp":1700000000123`)

	require.NoError(t, h.hangUp(t))
}

func TestLiveSession_StreamsReplyForTurnRequest(t *testing.T) {
	var mu sync.Mutex
	var seen [][]types.Message
	completer := completerFunc(func(_ context.Context, messages []types.Message) (core.TextStream, error) {
		mu.Lock()
		seen = append(seen, messages)
		mu.Unlock()
		return &sliceStream{chunks: []string{"Our hours are ", "nine to five."}}, nil
	})
	h := startLiveSession(t, completer, Config{TransferNumber: "+19045550100"})

	h.send(t, `{"interaction_type":"update_only","transcript":[{"role":"user","content":"hi"}]}`)
	h.send(t, `{"interaction_type":"response_required","response_id":3,"transcript":[{"role":"agent","content":"Hi!"},{"role":"user","content":"When are you open?"}]}`)

	first := h.read(t)
	second := h.read(t)
	terminal := h.read(t)

	assert.Equal(t, "Our hours are ", first.Content)
	assert.False(t, first.ContentComplete)
	assert.Equal(t, "nine to five.", second.Content)
	assert.False(t, second.ContentComplete)
	assert.True(t, terminal.ContentComplete)
	assert.Empty(t, terminal.Content)
	assert.Nil(t, terminal.TransferNumber)
	assert.NotContains(t, terminal.raw, "transfer_number")
	for _, f := range []wireFrame{first, second, terminal} {
		assert.EqualValues(t, 3, f.ResponseID)
	}

	require.NoError(t, h.hangUp(t))
	rec := h.record(t)
	require.Len(t, rec.Turns, 1)
	assert.Equal(t, TurnCompleted, rec.Turns[0].Status)
	assert.Len(t, rec.Transcript, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Len(t, seen[0], 2)
	assert.Equal(t, types.RoleAssistant, seen[0][0].Role)
	assert.Equal(t, "When are you open?", seen[0][1].Content)
}

func TestLiveSession_CallDetailsOverrideTransferNumber(t *testing.T) {
	h := startLiveSession(t, replyWith("Sure. Let me transfer you now."), Config{TransferNumber: "+19045550100"})

	h.send(t, `{"interaction_type":"call_details","call":{"call_id":"call_abc","from_number":"+19045551234","metadata":{"transfer_number":"+19045550199"}}}`)
	h.send(t, `{"interaction_type":"response_required","response_id":1,"transcript":[{"role":"user","content":"Can I talk to a person?"}]}`)

	_ = h.read(t)
	terminal := h.read(t)
	assert.True(t, terminal.ContentComplete)
	require.NotNil(t, terminal.TransferNumber)
	assert.Equal(t, "+19045550199", *terminal.TransferNumber)

	require.NoError(t, h.hangUp(t))
	rec := h.record(t)
	assert.Equal(t, "call_abc", rec.Call.CallID)
	assert.Equal(t, "+19045551234", rec.Call.FromNumber)
}

func TestLiveSession_UpstreamFailureApologizesAndTransfers(t *testing.T) {
	completer := completerFunc(func(context.Context, []types.Message) (core.TextStream, error) {
		return nil, core.NewAPIError("upstream exploded")
	})
	h := startLiveSession(t, completer, Config{TransferNumber: "+19045550100", Apology: "Sorry, one moment."})

	h.send(t, `{"interaction_type":"response_required","response_id":8,"transcript":[]}`)
	f := h.read(t)
	assert.EqualValues(t, 8, f.ResponseID)
	assert.Equal(t, "Sorry, one moment.", f.Content)
	assert.True(t, f.ContentComplete)
	require.NotNil(t, f.TransferNumber)
	assert.Equal(t, "+19045550100", *f.TransferNumber)

	require.NoError(t, h.hangUp(t))
}

func TestLiveSession_MidStreamFailureStillTerminates(t *testing.T) {
	completer := completerFunc(func(context.Context, []types.Message) (core.TextStream, error) {
		return &sliceStream{chunks: []string{"Let me check"}, err: errors.New("connection reset")}, nil
	})
	h := startLiveSession(t, completer, Config{})

	h.send(t, `{"interaction_type":"reminder_required","response_id":2,"transcript":[{"role":"user","content":"hmm"}]}`)
	partial := h.read(t)
	assert.Equal(t, "Let me check", partial.Content)
	terminal := h.read(t)
	assert.True(t, terminal.ContentComplete)
	assert.Equal(t, DefaultApology, terminal.Content)
	assert.Nil(t, terminal.TransferNumber)

	require.NoError(t, h.hangUp(t))
}

func TestLiveSession_IgnoresMalformedAndBinaryFrames(t *testing.T) {
	h := startLiveSession(t, replyWith("unused"), Config{})

	h.send(t, `not json`)
	h.send(t, `{"interaction_type":"mystery"}`)
	h.send(t, `{"interaction_type":"response_required","transcript":[]}`)
	require.NoError(t, h.client.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	h.send(t, `{"interaction_type":"ping_pong","timestamp":5}`)

	pong := h.read(t)
	assert.Equal(t, protocol.ResponseTypePingPong, pong.ResponseType)
	assert.Equal(t, json.Number("5"), pong.Timestamp)

	require.NoError(t, h.hangUp(t))
}

func TestLiveSession_CancelAbandonsInFlightTurn(t *testing.T) {
	started := make(chan struct{}, 1)
	completer := completerFunc(func(ctx context.Context, _ []types.Message) (core.TextStream, error) {
		started <- struct{}{}
		return blockingStream{ctx: ctx}, nil
	})
	h := startLiveSession(t, completer, Config{})

	h.send(t, `{"interaction_type":"response_required","response_id":1,"transcript":[{"role":"user","content":"hello?"}]}`)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("turn never started")
	}

	s := <-h.session
	snap := s.Snapshot()
	assert.Equal(t, string(LifecycleActive), snap.State)
	assert.Equal(t, StateAwaitingCompletion.String(), snap.TurnState)

	s.Cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after Cancel")
	}

	rec := h.record(t)
	require.Len(t, rec.Turns, 1)
	assert.ErrorIs(t, rec.Turns[0].Err, ErrCallClosed)
	assert.Equal(t, TurnAbandoned, rec.Turns[0].Status)
	assert.Equal(t, string(LifecycleClosed), s.Snapshot().State)
}

func TestLiveSession_PingAnsweredDuringBlockedTurn(t *testing.T) {
	started := make(chan struct{}, 1)
	completer := completerFunc(func(ctx context.Context, _ []types.Message) (core.TextStream, error) {
		started <- struct{}{}
		return blockingStream{ctx: ctx}, nil
	})
	h := startLiveSession(t, completer, Config{})

	h.send(t, `{"interaction_type":"response_required","response_id":2,"transcript":[{"role":"user","content":"are you open?"}]}`)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("turn never started")
	}

	h.send(t, `{"interaction_type":"ping_pong","timestamp":123}`)
	pong := h.read(t)
	assert.Equal(t, protocol.ResponseTypePingPong, pong.ResponseType)
	assert.Equal(t, json.Number("123"), pong.Timestamp)
	assert.False(t, pong.ContentComplete)

	s := <-h.session
	assert.Equal(t, StateAwaitingCompletion.String(), s.Snapshot().TurnState)

	require.NoError(t, h.hangUp(t))
	rec := h.record(t)
	require.Len(t, rec.Turns, 1)
	assert.Equal(t, TurnAbandoned, rec.Turns[0].Status)
}

func TestLiveSession_BlankFirstUtteranceSendsGreetingSeed(t *testing.T) {
	seen := make(chan []types.Message, 1)
	completer := completerFunc(func(_ context.Context, messages []types.Message) (core.TextStream, error) {
		seen <- messages
		if len(types.Alternating(messages)) == 0 {
			return nil, core.NewInvalidRequestError("no non-empty messages to send")
		}
		return &sliceStream{chunks: []string{"Hi, how can I help?"}}, nil
	})
	h := startLiveSession(t, completer, Config{TransferNumber: "+19045550100"})

	h.send(t, `{"interaction_type":"response_required","response_id":1,"transcript":[{"role":"user","content":""}]}`)
	reply := h.read(t)
	terminal := h.read(t)

	assert.Equal(t, "Hi, how can I help?", reply.Content)
	assert.True(t, terminal.ContentComplete)
	assert.Empty(t, terminal.Content)
	assert.Nil(t, terminal.TransferNumber)
	assert.Equal(t, []types.Message{types.UserMessage(GreetingSeed)}, <-seen)

	require.NoError(t, h.hangUp(t))
}

func TestLiveSession_TurnTimeoutApologizes(t *testing.T) {
	completer := completerFunc(func(ctx context.Context, _ []types.Message) (core.TextStream, error) {
		return blockingStream{ctx: ctx}, nil
	})
	h := startLiveSession(t, completer, Config{TurnTimeout: 50 * time.Millisecond, TransferNumber: "+19045550100"})

	h.send(t, `{"interaction_type":"response_required","response_id":4,"transcript":[]}`)
	f := h.read(t)
	assert.True(t, f.ContentComplete)
	assert.Equal(t, DefaultApology, f.Content)
	require.NotNil(t, f.TransferNumber)

	require.NoError(t, h.hangUp(t))
}

func TestLiveSession_SendPriorityEvictsOldest(t *testing.T) {
	s := &LiveSession{
		ctx:              context.Background(),
		outboundPriority: make(chan outboundFrame, 1),
	}
	s.outboundPriority <- outboundFrame{payload: []byte(`old`)}

	require.NoError(t, s.sendPriority(protocol.PongFrame("9")))
	got := <-s.outboundPriority
	assert.Contains(t, string(got.payload), `"timestamp":9`)
}

func TestNew_RequiresConnAndCompleter(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
	_, err = New(Dependencies{Conn: &websocket.Conn{}})
	require.Error(t, err)
}
