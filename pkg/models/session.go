package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Provider identifies the conferencing product a session runs on.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderZoom      Provider = "zoom"
	ProviderTelemost  Provider = "telemost"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderGoogle, ProviderMicrosoft, ProviderZoom, ProviderTelemost}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// StatusToken is one phase of a session as reported to the status API.
type StatusToken string

const (
	StatusProcessing StatusToken = "processing"
	StatusJoined     StatusToken = "joined"
	StatusFinished   StatusToken = "finished"
	StatusFailed     StatusToken = "failed"
)

// ErrTerminal is returned when a token is pushed after the history already ended.
var ErrTerminal = fmt.Errorf("status history is terminal")

// ErrOutOfOrder is returned when a token does not advance the history.
var ErrOutOfOrder = fmt.Errorf("status token out of order")

// rank orders tokens; finished and failed share the final rank.
func (t StatusToken) rank() int {
	switch t {
	case StatusProcessing:
		return 1
	case StatusJoined:
		return 2
	case StatusFinished, StatusFailed:
		return 3
	}
	return 0
}

// StatusHistory is the ordered list of phases a session went through.
// finished and failed are terminal; a trailing finished may still be downgraded.
type StatusHistory struct {
	mu     sync.RWMutex
	tokens []StatusToken
}

// Push appends a token. Tokens must strictly advance and nothing follows a terminal token.
func (h *StatusHistory) Push(token StatusToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal() {
		return ErrTerminal
	}
	if token.rank() == 0 {
		return fmt.Errorf("%w: unknown token %q", ErrOutOfOrder, token)
	}
	if n := len(h.tokens); n > 0 && token.rank() <= h.tokens[n-1].rank() {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, token, h.tokens[n-1])
	}
	h.tokens = append(h.tokens, token)
	return nil
}

// DowngradeFinished replaces a trailing finished with failed.
// It reports whether a replacement happened.
func (h *StatusHistory) DowngradeFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.tokens)
	if n == 0 || h.tokens[n-1] != StatusFinished {
		return false
	}
	h.tokens[n-1] = StatusFailed
	return true
}

// Terminal reports whether the last token is finished or failed.
func (h *StatusHistory) Terminal() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.terminal()
}

func (h *StatusHistory) terminal() bool {
	n := len(h.tokens)
	return n > 0 && (h.tokens[n-1] == StatusFinished || h.tokens[n-1] == StatusFailed)
}

// Contains reports whether the token was ever pushed.
func (h *StatusHistory) Contains(token StatusToken) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Last returns the most recent token, or "" when empty.
func (h *StatusHistory) Last() StatusToken {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.tokens) == 0 {
		return ""
	}
	return h.tokens[len(h.tokens)-1]
}

// Snapshot returns a copy of the tokens.
func (h *StatusHistory) Snapshot() []StatusToken {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StatusToken, len(h.tokens))
	copy(out, h.tokens)
	return out
}

// Session is the state of one bot attendance, from launch to final report.
type Session struct {
	Secret        string
	CorrelationID string
	Provider      Provider
	BotID         string
	EventID       string
	UserID        string
	TeamID        string
	Name          string
	URL           string
	StartedAt     time.Time
	History       *StatusHistory
}

// NewSession creates a session with a fresh secret and correlation id.
func NewSession(provider Provider) *Session {
	return &Session{
		Secret:        uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Provider:      provider,
		StartedAt:     time.Now(),
		History:       &StatusHistory{},
	}
}
