// Package store holds the observable state of the running session.
package store

import (
	"time"

	"github.com/grovetools/meetbot/pkg/models"
)

// Snapshot is the complete view of one session.
type Snapshot struct {
	SessionID     string               `json:"session_id"`
	BotID         string               `json:"bot_id,omitempty"`
	EventID       string               `json:"event_id,omitempty"`
	Provider      models.Provider      `json:"provider"`
	URL           string               `json:"url,omitempty"`
	Status        []models.StatusToken `json:"status"`
	StartedAt     time.Time            `json:"started_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	CaptureReason string               `json:"capture_reason,omitempty"`
	EndRequested  bool                 `json:"end_requested,omitempty"`
}

// UpdateType defines what kind of data changed.
type UpdateType string

const (
	UpdateStatus       UpdateType = "status"
	UpdateCapture      UpdateType = "capture"
	UpdateEndRequested UpdateType = "end_requested"
)

// Update represents a change to the state.
type Update struct {
	Type     UpdateType `json:"update_type"`
	Source   string     `json:"source,omitempty"` // Who caused the change (e.g., "session", "signal", "api", "stopfile")
	Snapshot Snapshot   `json:"snapshot"`
}
