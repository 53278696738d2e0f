package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/callbridge/internal/telemetry"
	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/live/protocol"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/live/transfer"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
)

const (
	outboundPriorityQueueSize = 8
	turnEventQueueSize        = 64
	metadataTransferKey       = "transfer_number"
)

var errSessionClosed = errors.New("live session closed")

// Completer opens one streaming model completion. *core.Engine satisfies it.
type Completer interface {
	StreamText(ctx context.Context, messages []types.Message) (core.TextStream, error)
}

type Config struct {
	ProactiveGreeting bool
	Greeting          string
	SendConfigFrame   bool
	AutoReconnect     bool

	TransferNumber  string
	Apology         string
	MaxPendingTurns int
	TurnTimeout     time.Duration

	InboundFPS    float64
	InboundBurst  int
	MaxFrameBytes int64

	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	OutboundQueueSize int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Completer Completer
	// Provider labels upstream error metrics.
	Provider  string
	Policy    transfer.Policy
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	SessionID string
	RequestID string
	// CallID comes from the upgrade path and may be empty until call_details.
	CallID  string
	Config  Config
	OnClose func(CallRecord)
	Now     func() time.Time
}

type LifecycleState string

const (
	LifecycleConnecting LifecycleState = "connecting"
	LifecycleActive     LifecycleState = "active"
	LifecycleClosed     LifecycleState = "closed"
)

// CallRecord summarizes a finished call.
type CallRecord struct {
	SessionID   string
	Call        protocol.CallInfo
	ConnectedAt time.Time
	EndedAt     time.Time
	// Transcript is the last transcript the platform sent.
	Transcript []protocol.Utterance
	Turns      []*Turn
}

type LiveSession struct {
	conn      *websocket.Conn
	completer Completer
	provider  string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	onClose   func(CallRecord)
	cfg       Config
	sessionID string
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	writerDone       chan struct{}
	turnEvents       chan turnEvent
	wg               sync.WaitGroup

	// Owned by the Run goroutine.
	controller     *Controller
	spans          map[uint64]trace.Span
	lastTranscript []protocol.Utterance
	callIDLogged   bool

	mu          sync.Mutex
	state       LifecycleState
	call        protocol.CallInfo
	turnState   State
	turns       int
	connectedAt time.Time
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// turnEvent is sent by a turn's pump goroutine. done marks the final event.
type turnEvent struct {
	seq  uint64
	text string
	done bool
	err  error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MaxPendingTurns < 0 {
		deps.Config.MaxPendingTurns = 0
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Policy == nil {
		deps.Policy = transfer.NewPhrasePolicy(deps.Config.TransferNumber, nil, nil)
	}

	logger := deps.Logger.With().Str("session_id", deps.SessionID).Logger()
	if deps.RequestID != "" {
		logger = logger.With().Str("request_id", deps.RequestID).Logger()
	}
	callID := strings.TrimSpace(deps.CallID)
	if callID != "" {
		logger = logger.With().Str("call_id", callID).Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:             deps.Conn,
		completer:        deps.Completer,
		provider:         deps.Provider,
		logger:           logger,
		metrics:          deps.Metrics,
		tracer:           deps.Tracer,
		onClose:          deps.OnClose,
		cfg:              deps.Config,
		sessionID:        deps.SessionID,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		writerDone:       make(chan struct{}),
		turnEvents:       make(chan turnEvent, turnEventQueueSize),
		spans:            make(map[uint64]trace.Span),
		callIDLogged:     callID != "",
		state:            LifecycleConnecting,
		call:             protocol.CallInfo{CallID: callID},
		connectedAt:      deps.Now(),
	}
	s.controller = NewController(ControllerConfig{
		Policy:         deps.Policy,
		TransferNumber: deps.Config.TransferNumber,
		Apology:        deps.Config.Apology,
		MaxPending:     deps.Config.MaxPendingTurns,
		Emit:           s.emitResponse,
		Start:          s.startTurn,
		Observer:       sessionObserver{s},
		Now:            deps.Now,
	})
	return s, nil
}

// Cancel ends the call from outside the Run goroutine.
func (s *LiveSession) Cancel() {
	s.cancel()
}

// Snapshot reports the call's current state. Safe for concurrent use.
func (s *LiveSession) Snapshot() sessions.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessions.Snapshot{
		SessionID:   s.sessionID,
		CallID:      s.call.CallID,
		FromNumber:  s.call.FromNumber,
		ToNumber:    s.call.ToNumber,
		State:       string(s.state),
		TurnState:   s.turnState.String(),
		Turns:       s.turns,
		ConnectedAt: s.connectedAt,
	}
}

// Run serves the call until the platform disconnects, the connection fails,
// or Cancel is called. It returns only after every goroutine it started has
// exited.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxFrameBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxFrameBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(readCh)
	}()
	go func() {
		defer close(s.writerDone)
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
			priority:     s.outboundPriority,
			normal:       s.outboundNormal,
		}
		writerErrCh <- w.Run()
	}()

	s.setLifecycle(LifecycleActive)
	s.metrics.RecordCallStart()
	s.logger.Info().Msg("call connected")

	limiter := newInboundLimiter(s.now, s.cfg.InboundFPS, s.cfg.InboundBurst)
	s.sendOpeningFrames()

	var runErr error
	status := "completed"
loop:
	for {
		select {
		case <-s.ctx.Done():
			status = "canceled"
			break loop
		case err := <-writerErrCh:
			if err != nil {
				runErr = fmt.Errorf("write frame: %w", err)
				status = "error"
			}
			break loop
		case frame, ok := <-readCh:
			if !ok {
				break loop
			}
			if frame.err != nil {
				if !isExpectedClose(frame.err) {
					runErr = fmt.Errorf("read frame: %w", frame.err)
					status = "error"
				}
				break loop
			}
			s.handleFrame(frame, limiter)
		case ev := <-s.turnEvents:
			s.handleTurnEvent(ev)
		}
	}

	s.controller.Close()
	s.cancel()
	<-s.writerDone
	_ = s.conn.Close()
	s.wg.Wait()
	s.publish()

	endedAt := s.now()
	s.setLifecycle(LifecycleClosed)
	s.mu.Lock()
	record := CallRecord{
		SessionID:   s.sessionID,
		Call:        s.call,
		ConnectedAt: s.connectedAt,
		EndedAt:     endedAt,
		Transcript:  s.lastTranscript,
		Turns:       s.controller.Turns(),
	}
	s.mu.Unlock()

	s.metrics.RecordCallEnd(status, endedAt.Sub(record.ConnectedAt))
	ev := s.logger.Info()
	if runErr != nil {
		ev = s.logger.Warn().Err(runErr)
	}
	ev.Str("status", status).
		Int("turns", len(record.Turns)).
		Dur("duration", endedAt.Sub(record.ConnectedAt)).
		Msg("call ended")

	if s.onClose != nil {
		s.onClose(record)
	}
	return runErr
}

func (s *LiveSession) handleFrame(frame inboundFrame, limiter *inboundLimiter) {
	defer s.publish()

	if frame.messageType != websocket.TextMessage {
		s.dropFrame("binary", nil)
		return
	}
	msg, err := protocol.DecodeInbound(frame.data)
	if err != nil {
		reason := "malformed"
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Code == "unsupported" {
			reason = "unsupported"
		}
		s.dropFrame(reason, err)
		return
	}

	switch m := msg.(type) {
	case protocol.PingPong:
		if err := s.sendPriority(protocol.PongFrame(m.Timestamp)); err != nil {
			s.logger.Debug().Err(err).Msg("pong not queued")
		}
	case protocol.TurnRequest:
		s.lastTranscript = m.Transcript
		s.controller.HandleTurnRequest(m)
		s.metrics.RecordPendingDepth(s.controller.Pending())
	case protocol.CallDetails:
		if !limiter.Allow() {
			s.dropFrame("rate_limited", nil)
			return
		}
		s.applyCallDetails(m.Call)
	case protocol.UpdateOnly:
		if !limiter.Allow() {
			s.dropFrame("rate_limited", nil)
			return
		}
		s.lastTranscript = m.Transcript
	}
}

func (s *LiveSession) handleTurnEvent(ev turnEvent) {
	if ev.done {
		s.controller.HandleEnd(ev.seq, ev.err)
		s.metrics.RecordPendingDepth(s.controller.Pending())
	} else {
		s.controller.HandleChunk(ev.seq, ev.text)
	}
	s.publish()
}

func (s *LiveSession) applyCallDetails(info protocol.CallInfo) {
	s.mu.Lock()
	if strings.TrimSpace(info.CallID) == "" {
		info.CallID = s.call.CallID
	}
	s.call = info
	s.mu.Unlock()

	if !s.callIDLogged && info.CallID != "" {
		s.logger = s.logger.With().Str("call_id", info.CallID).Logger()
		s.callIDLogged = true
	}
	if number, ok := info.Metadata[metadataTransferKey].(string); ok && strings.TrimSpace(number) != "" {
		s.controller.SetTransferNumber(number)
	}
	s.logger.Info().
		Str("from", info.FromNumber).
		Str("to", info.ToNumber).
		Str("direction", info.Direction).
		Msg("call details received")
}

func (s *LiveSession) sendOpeningFrames() {
	if s.cfg.SendConfigFrame {
		if err := s.sendNormal(protocol.ConfigFrame(s.cfg.AutoReconnect, true)); err != nil {
			s.logger.Warn().Err(err).Msg("config frame not sent")
		}
	}
	if s.cfg.ProactiveGreeting && strings.TrimSpace(s.cfg.Greeting) != "" {
		if err := s.sendNormal(protocol.TerminalFrame(0, s.cfg.Greeting, false, "")); err != nil {
			s.logger.Warn().Err(err).Msg("greeting not sent")
		}
	}
}

// startTurn launches the pump for turn and returns the cancel func the
// controller calls when the turn resolves or the call closes.
func (s *LiveSession) startTurn(turn *Turn) func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.TurnTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}

	ctx, span := s.tracer.Start(ctx, "voice.turn",
		trace.WithAttributes(telemetry.TurnAttributes(s.callID(), turn.ResponseID, turn.Kind, len(turn.Messages))...))
	s.spans[turn.seq] = span

	seq := turn.seq
	messages := turn.Messages
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(ctx, seq, messages)
	}()
	return cancel
}

// pump reads one upstream stream and forwards it as turn events. It owns
// the stream for its whole life, including Close.
func (s *LiveSession) pump(ctx context.Context, seq uint64, messages []types.Message) {
	send := func(ev turnEvent) bool {
		select {
		case s.turnEvents <- ev:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	stream, err := s.completer.StreamText(ctx, messages)
	if err != nil {
		send(turnEvent{seq: seq, done: true, err: err})
		return
	}
	defer stream.Close()

	for {
		text, err := stream.Next()
		switch {
		case errors.Is(err, io.EOF):
			send(turnEvent{seq: seq, done: true})
			return
		case err != nil:
			send(turnEvent{seq: seq, done: true, err: err})
			return
		case text == "":
			continue
		}
		if !send(turnEvent{seq: seq, text: text}) {
			return
		}
	}
}

func (s *LiveSession) emitResponse(r protocol.Response) error {
	err := s.sendNormal(r)
	if err != nil {
		s.logger.Warn().Err(err).Int64("response_id", r.ResponseID).Bool("content_complete", r.ContentComplete).Msg("response frame not sent")
	}
	return err
}

// sendNormal queues a frame behind earlier reply frames. It blocks while the
// queue is full so a terminal frame is never dropped for backpressure.
func (s *LiveSession) sendNormal(frame any) error {
	payload, err := protocol.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	select {
	case s.outboundNormal <- outboundFrame{payload: payload}:
		return nil
	case <-s.writerDone:
		return errSessionClosed
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

// sendPriority queues a frame ahead of reply frames, evicting the oldest
// queued priority frame when full.
func (s *LiveSession) sendPriority(frame any) error {
	payload, err := protocol.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	out := outboundFrame{payload: payload}
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- out:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
			s.metrics.RecordFrameDropped("pong_evicted")
		default:
		}
	}
	return errSessionClosed
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) dropFrame(reason string, err error) {
	s.metrics.RecordFrameDropped(reason)
	ev := s.logger.Warn()
	if reason == "rate_limited" {
		ev = s.logger.Debug()
	}
	ev.Err(err).Str("reason", reason).Msg("inbound frame dropped")
}

func (s *LiveSession) callID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call.CallID
}

func (s *LiveSession) setLifecycle(state LifecycleState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *LiveSession) publish() {
	state := s.controller.State()
	s.mu.Lock()
	s.turnState = state
	s.mu.Unlock()
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// sessionObserver turns controller callbacks into spans, metrics, and logs.
type sessionObserver struct {
	s *LiveSession
}

func (o sessionObserver) TurnStarted(t *Turn) {
	o.s.logger.Debug().
		Int64("response_id", t.ResponseID).
		Str("kind", t.Kind).
		Int("messages", len(t.Messages)).
		Msg("turn started")
}

func (o sessionObserver) TurnFinished(t *Turn) {
	s := o.s
	abandoned := t.Status == TurnAbandoned
	status := string(t.Status)

	if span, ok := s.spans[t.seq]; ok {
		span.SetAttributes(telemetry.TurnResultAttributes(status, t.Decision.Transfer, len(t.Reply()))...)
		if t.Err != nil && !abandoned {
			span.RecordError(t.Err)
			span.SetStatus(codes.Error, t.Err.Error())
		}
		span.End()
		delete(s.spans, t.seq)
	}

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()

	s.metrics.RecordTurn(t.Kind, status, t.Duration())
	if !t.FirstChunkAt.IsZero() {
		s.metrics.RecordFirstChunk(t.FirstChunkAt.Sub(t.StartedAt))
	}
	if t.Decision.Transfer {
		reason := "phrase"
		if t.Status == TurnErrored {
			reason = "error"
		}
		s.metrics.RecordTransfer(reason)
	}

	if abandoned {
		s.logger.Debug().Int64("response_id", t.ResponseID).Msg("turn abandoned")
		return
	}
	ev := s.logger.Info()
	if t.Err != nil {
		errType := core.ErrorTypeOf(t.Err)
		s.metrics.RecordError(s.provider, string(errType))
		ev = s.logger.Warn().Err(t.Err).Str("error_type", string(errType))
	}
	ev.Int64("response_id", t.ResponseID).
		Str("kind", t.Kind).
		Str("status", status).
		Dur("duration", t.Duration()).
		Int("reply_chars", len(t.Reply())).
		Bool("transfer", t.Decision.Transfer).
		Bool("end_call", t.Decision.EndCall).
		Msg("turn finished")
}

func (o sessionObserver) TurnDropped(req protocol.TurnRequest, pending int) {
	o.s.metrics.RecordFrameDropped("busy_overflow")
	o.s.logger.Warn().
		Int64("response_id", req.ResponseID).
		Int("pending", pending).
		Msg("turn request dropped, queue full")
}
