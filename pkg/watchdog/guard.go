// Package watchdog runs the perpetual checks that end a recording and the
// one-shot guard that makes sure the recording ends only once.
package watchdog

import (
	"sync"
)

// Reasons recorded by the guard.
const (
	ReasonSilence         = "silence"
	ReasonLoneParticipant = "lone-participant"
	ReasonPageInvalid     = "page-invalid"
	ReasonMaxDuration     = "max-duration"
	ReasonHostEnd         = "host-end"
	ReasonPageEnded       = "page-ended"
)

// Guard is a one-shot latch. The first Fire runs the teardown; every later
// call returns false without side effects.
type Guard struct {
	once     sync.Once
	mu       sync.RWMutex
	reason   string
	fired    chan struct{}
	teardown func(reason string)
}

// NewGuard creates a guard that runs teardown on the first Fire.
func NewGuard(teardown func(reason string)) *Guard {
	return &Guard{
		fired:    make(chan struct{}),
		teardown: teardown,
	}
}

// Fire runs the teardown if no one has fired yet and reports whether this call won.
// The winner returns after the teardown has finished.
func (g *Guard) Fire(reason string) bool {
	won := false
	g.once.Do(func() {
		won = true
		g.mu.Lock()
		g.reason = reason
		g.mu.Unlock()
		if g.teardown != nil {
			g.teardown(reason)
		}
		close(g.fired)
	})
	return won
}

// Done is closed once the teardown has completed.
func (g *Guard) Done() <-chan struct{} {
	return g.fired
}

// Reason returns the reason passed by the winning Fire, or "" if it has not fired.
func (g *Guard) Reason() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reason
}
