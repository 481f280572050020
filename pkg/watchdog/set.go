package watchdog

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Trigger asks the guard to end the recording. It reports whether this call won.
type Trigger func(reason string) bool

// Watchdog is a perpetual check started when capture begins.
type Watchdog interface {
	// Name returns the watchdog's name for logging.
	Name() string

	// Run blocks until the context is canceled or the watchdog gives up.
	// A returned error disables the watchdog; it never ends the recording by itself.
	Run(ctx context.Context, trigger Trigger) error
}

// Teardown is the single stop sequence executed by the guard.
type Teardown struct {
	// StopMedia stops the recorder and releases the stream tracks.
	StopMedia func(reason string)
	// SignalEnd sends the one-shot session ended message to the host side.
	SignalEnd func(reason string)
}

// Set runs watchdogs that share one guard.
type Set struct {
	guard     *Guard
	watchdogs []Watchdog
	logger    *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSet creates a set whose guard runs teardown once, canceling every watchdog
// between stopping the media and signaling the end.
func NewSet(logger *logrus.Entry, teardown Teardown) *Set {
	s := &Set{logger: logger}
	s.guard = NewGuard(func(reason string) {
		s.logger.WithField("reason", reason).Info("Stopping capture")
		if teardown.StopMedia != nil {
			teardown.StopMedia(reason)
		}
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		if teardown.SignalEnd != nil {
			teardown.SignalEnd(reason)
		}
	})
	return s
}

// Register adds a watchdog. Watchdogs registered after Start are ignored.
func (s *Set) Register(w Watchdog) {
	s.watchdogs = append(s.watchdogs, w)
}

// Start runs every registered watchdog in its own goroutine and returns immediately.
func (s *Set) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// A guard fired before Start still cancels the watchdogs.
	select {
	case <-s.guard.Done():
		cancel()
	default:
	}

	for _, w := range s.watchdogs {
		s.wg.Add(1)
		go func(w Watchdog) {
			defer s.wg.Done()
			log := s.logger.WithField("watchdog", w.Name())
			log.Debug("Starting watchdog")
			trigger := func(reason string) bool {
				won := s.guard.Fire(reason)
				log.WithField("reason", reason).WithField("won", won).Info("Watchdog fired")
				return won
			}
			if err := w.Run(ctx, trigger); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("Watchdog disabled")
			}
		}(w)
	}
}

// Fire ends the recording for a reason outside the watchdogs (hard limit, host end).
func (s *Set) Fire(reason string) bool {
	return s.guard.Fire(reason)
}

// Guard returns the set's guard.
func (s *Set) Guard() *Guard {
	return s.guard
}

// Wait blocks until every watchdog goroutine has returned.
func (s *Set) Wait() {
	s.wg.Wait()
}
