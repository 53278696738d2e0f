package session

import (
	"strings"
	"time"

	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/live/transfer"
)

type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnCompleted TurnStatus = "completed"
	TurnErrored   TurnStatus = "errored"
	// TurnAbandoned ends a turn whose connection closed before it finished.
	TurnAbandoned TurnStatus = "abandoned"
)

// Turn is one model invocation within a call. The controller owns it; the
// reply only grows while the turn is pending and is frozen afterwards.
type Turn struct {
	seq uint64

	ResponseID int64
	Kind       string
	Messages   []types.Message
	Status     TurnStatus
	Decision   transfer.Decision
	Err        error

	StartedAt    time.Time
	FirstChunkAt time.Time
	EndedAt      time.Time

	reply strings.Builder
}

// Reply returns the text accumulated so far.
func (t *Turn) Reply() string {
	return t.reply.String()
}

func (t *Turn) appendChunk(text string, now time.Time) {
	if t.Status != TurnPending {
		return
	}
	if t.FirstChunkAt.IsZero() {
		t.FirstChunkAt = now
	}
	t.reply.WriteString(text)
}

func (t *Turn) finish(status TurnStatus, decision transfer.Decision, err error, now time.Time) {
	t.Status = status
	t.Decision = decision
	t.Err = err
	t.EndedAt = now
}

// Duration is the time from start to terminal frame, or zero while pending.
func (t *Turn) Duration() time.Duration {
	if t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}
