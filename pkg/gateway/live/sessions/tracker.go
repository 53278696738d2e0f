// Package sessions tracks live calls so the process can report, cap, and
// drain them.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of one call.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	CallID      string    `json:"call_id,omitempty"`
	FromNumber  string    `json:"from_number,omitempty"`
	ToNumber    string    `json:"to_number,omitempty"`
	State       string    `json:"state"`
	TurnState   string    `json:"turn_state,omitempty"`
	Turns       int       `json:"turns"`
	ConnectedAt time.Time `json:"connected_at"`
}

type Handle struct {
	Cancel   func()
	Snapshot func() Snapshot
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a call under sessionID, replacing any previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	unregister, _ = t.register(sessionID, h, 0)
	return unregister
}

// TryRegister is Register with a capacity check. A limit <= 0 is unlimited.
func (t *Tracker) TryRegister(sessionID string, h Handle, limit int) (unregister func(), ok bool) {
	return t.register(sessionID, h, limit)
}

func (t *Tracker) register(sessionID string, h Handle, limit int) (func(), bool) {
	if t == nil {
		return func() {}, true
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	if limit > 0 && old == nil && len(t.sessions) >= limit {
		t.mu.Unlock()
		return func() {}, false
	}
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }, true
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshots returns every tracked call, oldest connection first.
func (t *Tracker) Snapshots() []Snapshot {
	if t == nil {
		return nil
	}

	type pending struct {
		id string
		fn func() Snapshot
	}
	var fns []pending
	t.mu.Lock()
	for id, entry := range t.sessions {
		if entry == nil {
			continue
		}
		fns = append(fns, pending{id: id, fn: entry.handle.Snapshot})
	}
	t.mu.Unlock()

	out := make([]Snapshot, 0, len(fns))
	for _, p := range fns {
		snap := Snapshot{SessionID: p.id}
		if p.fn != nil {
			snap = p.fn()
			if snap.SessionID == "" {
				snap.SessionID = p.id
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
