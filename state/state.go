// Package state keeps a small key-value record of past sessions under the
// meetbot state directory.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grovetools/meetbot/pkg/paths"
	"gopkg.in/yaml.v3"
)

// State is the state file as a generic map.
type State map[string]interface{}

// LastSessionKey holds the record of the most recent session.
const LastSessionKey = "last_session"

// SessionRecord summarizes a finished run.
type SessionRecord struct {
	BotID         string    `yaml:"bot_id"`
	EventID       string    `yaml:"event_id,omitempty"`
	Provider      string    `yaml:"provider"`
	URL           string    `yaml:"url"`
	Status        []string  `yaml:"status"`
	CaptureReason string    `yaml:"capture_reason,omitempty"`
	Location      string    `yaml:"location,omitempty"`
	Error         string    `yaml:"error,omitempty"`
	StartedAt     time.Time `yaml:"started_at"`
	EndedAt       time.Time `yaml:"ended_at"`
}

// stateFilePath returns <state dir>/state.yml.
func stateFilePath() (string, error) {
	dir := paths.StateDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine state directory")
	}
	return filepath.Join(dir, "state.yml"), nil
}

// Load loads the state from the state file.
// Returns an empty state if the file doesn't exist.
func Load() (State, error) {
	path, err := stateFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(State), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	if state == nil {
		state = make(State)
	}

	return state, nil
}

// Save saves the state to the state file.
func Save(state State) error {
	path, err := stateFilePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// Get retrieves a value from the state by key.
func Get(key string) (interface{}, bool, error) {
	state, err := Load()
	if err != nil {
		return nil, false, err
	}

	val, ok := state[key]
	return val, ok, nil
}

// Set sets a value in the state.
func Set(key string, value interface{}) error {
	state, err := Load()
	if err != nil {
		return err
	}

	state[key] = value
	return Save(state)
}

// Delete removes a key from the state.
func Delete(key string) error {
	state, err := Load()
	if err != nil {
		return err
	}

	delete(state, key)
	return Save(state)
}

// SaveLastSession replaces the last-session record.
func SaveLastSession(rec SessionRecord) error {
	return Set(LastSessionKey, rec)
}

// LastSession returns the last-session record, or nil when none was saved.
func LastSession() (*SessionRecord, error) {
	val, ok, err := Get(LastSessionKey)
	if err != nil || !ok {
		return nil, err
	}
	// Values come back as generic maps; round-trip through YAML to get the struct.
	data, err := yaml.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal last session: %w", err)
	}
	var rec SessionRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse last session: %w", err)
	}
	return &rec, nil
}
