// Package profiling times the phases of a session and writes pprof profiles.
package profiling

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Stopper ends a timed span.
type Stopper interface {
	Stop()
}

// Phase is a finished or running span flattened for reporting.
type Phase struct {
	Name     string
	Depth    int
	Duration time.Duration
}

type span struct {
	name     string
	start    time.Time
	duration time.Duration
	done     bool
	children []*span
	timeline *Timeline
}

// Stop completes the timing for this span.
func (s *span) Stop() {
	s.timeline.endSpan(s)
}

// Timeline records nested spans. The zero value is disabled.
type Timeline struct {
	mu      sync.Mutex
	enabled bool
	root    *span
	stack   []*span
	now     func() time.Time
}

// NewTimeline returns an enabled timeline.
func NewTimeline() *Timeline {
	t := &Timeline{}
	t.enable(time.Now)
	return t
}

func (t *Timeline) enable(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return
	}
	t.enabled = true
	t.now = now
	t.root = &span{name: "root", start: now(), timeline: t}
	t.stack = []*span{t.root}
}

// Start opens a span nested in the innermost running one.
func (t *Timeline) Start(name string) Stopper {
	if t == nil {
		return noopStopper{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return noopStopper{}
	}

	parent := t.stack[len(t.stack)-1]
	s := &span{name: name, start: t.now(), timeline: t}
	parent.children = append(parent.children, s)
	t.stack = append(t.stack, s)
	return s
}

func (t *Timeline) endSpan(s *span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.duration = t.now().Sub(s.start)

	// Pop s and anything left open inside it.
	for i := len(t.stack) - 1; i > 0; i-- {
		if t.stack[i] == s {
			t.stack = t.stack[:i]
			return
		}
	}
}

// Phases returns every span depth-first in start order. Running spans report
// their duration so far.
func (t *Timeline) Phases() []Phase {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return nil
	}

	var phases []Phase
	var walk func(s *span, depth int)
	walk = func(s *span, depth int) {
		for _, child := range s.children {
			d := child.duration
			if !child.done {
				d = t.now().Sub(child.start)
			}
			phases = append(phases, Phase{Name: child.name, Depth: depth, Duration: d})
			walk(child, depth+1)
		}
	}
	walk(t.root, 0)
	return phases
}

// Summarize prints the span tree with each span's share of the total.
func (t *Timeline) Summarize(w io.Writer) {
	phases := t.Phases()
	if len(phases) == 0 {
		return
	}
	t.mu.Lock()
	total := t.now().Sub(t.root.start)
	t.mu.Unlock()

	fmt.Fprintln(w, "\n--- Session Timing ---")
	for _, p := range phases {
		percentage := 0.0
		if total > 0 {
			percentage = float64(p.Duration) / float64(total) * 100
		}
		fmt.Fprintf(w, "%s- %s (%v, %.1f%%)\n", strings.Repeat("  ", p.Depth), p.Name, p.Duration.Round(time.Millisecond), percentage)
	}
	fmt.Fprintln(w, "----------------------")
}

var defaultTimeline = &Timeline{}

// Enable turns on the process-wide timeline.
func Enable() {
	defaultTimeline.enable(time.Now)
}

// Start begins a span on the process-wide timeline. It is a no-op until Enable is called.
func Start(name string) Stopper {
	return defaultTimeline.Start(name)
}

// Summarize prints the process-wide timeline.
func Summarize(w io.Writer) {
	defaultTimeline.Summarize(w)
}

type noopStopper struct{}

func (noopStopper) Stop() {}
