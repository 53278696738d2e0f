// Package convlog keeps the most recent chat conversations and voice calls
// in memory for the admin endpoints. Nothing survives a restart.
package convlog

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/callbridge/pkg/core/types"
)

const DefaultMaxConversations = 1000

const (
	ChannelChat  = "chat"
	ChannelVoice = "voice"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Messages      []Message `json:"messages"`
}

type Option func(*Log)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Log is a bounded conversation store. Once full, recording a new
// conversation evicts the one that was created first.
type Log struct {
	mu    sync.RWMutex
	max   int
	now   func() time.Time
	order []string
	byID  map[string]*Conversation
}

func New(max int, opts ...Option) *Log {
	if max <= 0 {
		max = DefaultMaxConversations
	}
	l := &Log{
		max:  max,
		now:  time.Now,
		byID: make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record replaces the messages of conversation id with messages, creating
// it if needed. An empty id is replaced with a generated one, which is
// returned.
func (l *Log) Record(id, channel string, messages []types.Message) string {
	if l == nil {
		return id
	}
	now := l.now()
	id = strings.TrimSpace(id)
	if id == "" {
		id = "unknown_" + strconv.FormatInt(now.UnixMilli(), 10)
	}

	stamped := make([]Message, len(messages))
	for i, m := range messages {
		stamped[i] = Message{Role: m.Role, Content: m.Content, Timestamp: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	conv, ok := l.byID[id]
	if !ok {
		conv = &Conversation{ID: id, Channel: channel, StartedAt: now}
		l.byID[id] = conv
		l.order = append(l.order, id)
		for len(l.order) > l.max {
			delete(l.byID, l.order[0])
			l.order = l.order[1:]
		}
	}
	conv.LastMessageAt = now
	conv.Messages = stamped
	return id
}

// Get returns a copy of conversation id.
func (l *Log) Get(id string) (Conversation, bool) {
	if l == nil {
		return Conversation{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	conv, ok := l.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return clone(conv), true
}

// List returns up to limit conversations starting at offset, most recently
// active first, along with the total count.
func (l *Log) List(limit, offset int) (total int, page []Conversation) {
	if l == nil {
		return 0, nil
	}
	l.mu.RLock()
	all := make([]Conversation, 0, len(l.byID))
	for _, id := range l.order {
		all = append(all, clone(l.byID[id]))
	}
	l.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastMessageAt.After(all[j].LastMessageAt)
	})

	total = len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return total, []Conversation{}
	}
	end := min(offset+limit, total)
	return total, all[offset:end]
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

func clone(c *Conversation) Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
