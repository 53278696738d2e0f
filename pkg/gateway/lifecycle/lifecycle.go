// Package lifecycle holds process-wide shutdown state shared by handlers.
package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle records whether the process is draining. A nil *Lifecycle is
// never draining.
type Lifecycle struct {
	mu    sync.RWMutex
	since time.Time
}

// SetDraining starts or clears draining. Starting twice keeps the first time.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case !draining:
		l.since = time.Time{}
	case l.since.IsZero():
		l.since = time.Now()
	}
}

func (l *Lifecycle) IsDraining() bool {
	return !l.DrainingSince().IsZero()
}

// DrainingSince returns when draining began, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.since
}
