package session

import (
	"errors"
	"strings"
	"time"

	"github.com/vango-go/callbridge/pkg/gateway/live/protocol"
	"github.com/vango-go/callbridge/pkg/gateway/live/transfer"
)

// State is the turn controller state.
type State int

const (
	StateIdle State = iota
	StateAwaitingCompletion
	StateStreamingReply
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCompletion:
		return "awaiting-completion"
	case StateStreamingReply:
		return "streaming-reply"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// DefaultApology is spoken when the upstream model fails mid-turn.
const DefaultApology = "I'm sorry, I'm having trouble pulling that up right now. Let me transfer you to someone who can help."

const maxTurnHistory = 256

// ErrCallClosed marks a turn abandoned because the connection went away.
var ErrCallClosed = errors.New("call closed")

// TurnObserver receives turn lifecycle callbacks on the controller goroutine.
type TurnObserver interface {
	TurnStarted(t *Turn)
	TurnFinished(t *Turn)
	TurnDropped(req protocol.TurnRequest, pending int)
}

type ControllerConfig struct {
	Policy         transfer.Policy
	TransferNumber string
	Apology        string
	// MaxPending bounds turn requests queued while busy. Zero drops them.
	MaxPending int

	// Emit queues an outbound frame; errors are the emitter's to log.
	Emit func(protocol.Response) error
	// Start launches the upstream call for t and returns its cancel func. It
	// must not call back into the controller synchronously.
	Start func(t *Turn) (cancel func())

	Observer TurnObserver
	Now      func() time.Time
}

// Controller sequences turns for one call. It is not safe for concurrent
// use: a single goroutine feeds it inbound requests and upstream events.
type Controller struct {
	cfg ControllerConfig

	state        State
	active       *Turn
	cancelActive func()
	pending      []protocol.TurnRequest
	seq          uint64
	history      []*Turn

	transferOverride string
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Policy == nil {
		cfg.Policy = transfer.NewPhrasePolicy(cfg.TransferNumber, nil, nil)
	}
	if strings.TrimSpace(cfg.Apology) == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	if cfg.Emit == nil {
		cfg.Emit = func(protocol.Response) error { return nil }
	}
	if cfg.Start == nil {
		cfg.Start = func(*Turn) func() { return func() {} }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State { return c.state }

// Active returns the in-flight turn, or nil when idle.
func (c *Controller) Active() *Turn { return c.active }

// Pending returns the number of queued turn requests.
func (c *Controller) Pending() int { return len(c.pending) }

// Turns returns finished turns, oldest first.
func (c *Controller) Turns() []*Turn {
	out := make([]*Turn, len(c.history))
	copy(out, c.history)
	return out
}

// SetTransferNumber overrides the transfer target for the rest of the call.
func (c *Controller) SetTransferNumber(number string) {
	c.transferOverride = strings.TrimSpace(number)
}

// TransferNumber returns the effective transfer target.
func (c *Controller) TransferNumber() string {
	if c.transferOverride != "" {
		return c.transferOverride
	}
	return strings.TrimSpace(c.cfg.TransferNumber)
}

// HandleTurnRequest starts a turn when idle and queues it otherwise.
func (c *Controller) HandleTurnRequest(req protocol.TurnRequest) {
	switch c.state {
	case StateDone:
		return
	case StateIdle:
		c.begin(req)
	default:
		if len(c.pending) >= c.cfg.MaxPending {
			if c.cfg.Observer != nil {
				c.cfg.Observer.TurnDropped(req, len(c.pending))
			}
			return
		}
		c.pending = append(c.pending, req)
	}
}

// HandleChunk forwards one increment of turn seq. Events for any other turn
// are stale and ignored.
func (c *Controller) HandleChunk(seq uint64, text string) {
	turn := c.current(seq)
	if turn == nil || text == "" {
		return
	}
	turn.appendChunk(text, c.cfg.Now())
	c.state = StateStreamingReply
	_ = c.cfg.Emit(protocol.ContentFrame(turn.ResponseID, text))
}

// HandleEnd resolves turn seq. A nil err is normal completion.
func (c *Controller) HandleEnd(seq uint64, err error) {
	turn := c.current(seq)
	if turn == nil {
		return
	}

	now := c.cfg.Now()
	var frame protocol.Response
	if err != nil {
		decision := transfer.Forced(c.TransferNumber())
		turn.finish(TurnErrored, decision, err, now)
		frame = protocol.TerminalFrame(turn.ResponseID, c.cfg.Apology, false, decision.Number)
	} else {
		decision := c.decide(turn.Reply())
		turn.finish(TurnCompleted, decision, nil, now)
		number := ""
		if decision.Transfer {
			number = decision.Number
		}
		frame = protocol.TerminalFrame(turn.ResponseID, "", decision.EndCall, number)
	}
	_ = c.cfg.Emit(frame)

	c.release()
	c.state = StateIdle
	c.record(turn)

	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.begin(next)
	}
}

// Close moves the controller to done, abandoning any in-flight turn without
// emitting a frame.
func (c *Controller) Close() {
	if c.state == StateDone {
		return
	}
	turn := c.active
	c.release()
	c.state = StateDone
	c.pending = nil
	if turn != nil {
		turn.finish(TurnAbandoned, transfer.Decision{}, ErrCallClosed, c.cfg.Now())
		c.record(turn)
	}
}

func (c *Controller) begin(req protocol.TurnRequest) {
	c.seq++
	turn := &Turn{
		seq:        c.seq,
		ResponseID: req.ResponseID,
		Kind:       req.Kind(),
		Messages:   Reduce(req.Transcript, req.Reminder),
		Status:     TurnPending,
		StartedAt:  c.cfg.Now(),
	}
	c.active = turn
	c.state = StateAwaitingCompletion
	if c.cfg.Observer != nil {
		c.cfg.Observer.TurnStarted(turn)
	}
	c.cancelActive = c.cfg.Start(turn)
}

func (c *Controller) current(seq uint64) *Turn {
	if c.state == StateDone || c.active == nil || c.active.seq != seq {
		return nil
	}
	return c.active
}

func (c *Controller) release() {
	if c.cancelActive != nil {
		c.cancelActive()
		c.cancelActive = nil
	}
	c.active = nil
}

func (c *Controller) record(turn *Turn) {
	c.history = append(c.history, turn)
	if len(c.history) > maxTurnHistory {
		c.history = c.history[len(c.history)-maxTurnHistory:]
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.TurnFinished(turn)
	}
}

func (c *Controller) decide(text string) transfer.Decision {
	policy := c.cfg.Policy
	if c.transferOverride != "" {
		if pp, ok := policy.(*transfer.PhrasePolicy); ok {
			policy = pp.WithNumber(c.transferOverride)
		}
	}
	d := policy.Decide(text)
	if d.Transfer && c.transferOverride != "" {
		d.Number = c.transferOverride
	}
	return d
}
