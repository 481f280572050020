package store

import (
	"sync"
	"time"

	"github.com/grovetools/meetbot/pkg/models"
)

// Store is the in-memory state of the running session.
// It is thread-safe and supports pub/sub for real-time updates.
type Store struct {
	mu          sync.RWMutex
	state       Snapshot
	subscribers map[chan Update]struct{}
	now         func() time.Time
}

// New creates a Store describing sess.
func New(sess *models.Session) *Store {
	s := &Store{
		subscribers: make(map[chan Update]struct{}),
		now:         time.Now,
	}
	s.state = Snapshot{
		SessionID: sess.CorrelationID,
		BotID:     sess.BotID,
		EventID:   sess.EventID,
		Provider:  sess.Provider,
		URL:       sess.URL,
		Status:    sess.History.Snapshot(),
		StartedAt: sess.StartedAt,
		UpdatedAt: s.now(),
	}
	return s
}

// Get returns a copy of the current state.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	out := s.state
	out.Status = append([]models.StatusToken(nil), s.state.Status...)
	return out
}

// StatusChanged records the session's current history.
func (s *Store) StatusChanged(sess *models.Session) {
	s.apply(UpdateStatus, "session", func(st *Snapshot) {
		st.Status = sess.History.Snapshot()
	})
}

// CaptureEnded records why capture stopped.
func (s *Store) CaptureEnded(reason string) {
	s.apply(UpdateCapture, "session", func(st *Snapshot) {
		st.CaptureReason = reason
	})
}

// RequestEnd marks that an early end was requested. It reports whether this
// was the first request.
func (s *Store) RequestEnd(source string) bool {
	first := false
	s.apply(UpdateEndRequested, source, func(st *Snapshot) {
		first = !st.EndRequested
		st.EndRequested = true
	})
	return first
}

// apply modifies the state and notifies subscribers.
func (s *Store) apply(kind UpdateType, source string, mutate func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.state)
	s.state.UpdatedAt = s.now()

	u := Update{Type: kind, Source: source, Snapshot: s.copyLocked()}
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// Non-blocking send so a slow observer never stalls the session
		}
	}
}

// Subscribe creates a new subscription channel for state updates.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, 32)
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}
