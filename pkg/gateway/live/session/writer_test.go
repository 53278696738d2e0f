package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu       sync.Mutex
	writes   []recordedWrite
	failWith error
	closed   bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func textFrame(s string) outboundFrame { return outboundFrame{payload: []byte(s)} }

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- textFrame(`{"response_type":"response","response_id":1,"content":"Hi","content_complete":false,"end_call":false}`)
	priority <- textFrame(`{"response_type":"ping_pong","timestamp":1700000000000}`)
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, pingInterval: time.Hour, writeTimeout: time.Second, priority: priority, normal: normal}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d: %+v", len(writes), writes)
	}
	if !strings.Contains(writes[0].data, `"response_type":"ping_pong"`) {
		t.Fatalf("first write was not the pong: %q", writes[0].data)
	}
	for _, wr := range writes {
		if wr.messageType != websocket.TextMessage {
			t.Fatalf("write type=%d, want TextMessage", wr.messageType)
		}
	}
}

func TestOutboundWriter_NormalFramesKeepOrder(t *testing.T) {
	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 4)
	for _, s := range []string{"a", "b", "c"} {
		normal <- textFrame(s)
	}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: context.Background(), pingInterval: time.Hour, writeTimeout: time.Second, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var got []string
	for _, wr := range ws.snapshot() {
		got = append(got, wr.data)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("writes=%v, want a,b,c", got)
	}
}

func TestOutboundWriter_WriteErrorStopsRun(t *testing.T) {
	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 1)
	normal <- textFrame("x")

	boom := errors.New("broken pipe")
	ws := &fakeWSWriter{failWith: boom}
	w := outboundWriter{ws: ws, ctx: context.Background(), pingInterval: time.Hour, writeTimeout: time.Second, priority: priority, normal: normal}

	if err := w.Run(); !errors.Is(err, boom) {
		t.Fatalf("Run() err=%v, want %v", err, boom)
	}
}

func TestOutboundWriter_FlushesPriorityOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	priority <- textFrame(`{"response_type":"ping_pong","timestamp":42}`)
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, pingInterval: time.Hour, writeTimeout: time.Second, priority: priority, normal: normal}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) < 2 || !strings.Contains(writes[0].data, `"timestamp":42`) {
		t.Fatalf("expected pong to flush on shutdown, writes=%+v", writes)
	}
	if writes[len(writes)-1].messageType != websocket.CloseMessage {
		t.Fatalf("last write type=%d, want CloseMessage", writes[len(writes)-1].messageType)
	}
	if !ws.closed {
		t.Fatalf("expected socket closed")
	}
}
