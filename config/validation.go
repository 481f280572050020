package config

import (
	"fmt"
	"net/url"

	"github.com/grovetools/meetbot/errors"
)

// Validate checks the semantic rules the schema cannot express.
func (c *Config) Validate() error {
	durations := map[string]float64{
		"session.wait_for_admission":                  c.Session.WaitForAdmission,
		"session.max_recording_duration":              c.Session.MaxRecordingDuration,
		"session.inactivity_limit":                    c.Session.InactivityLimit,
		"session.activate_inactivity_detection_after": c.Session.ActivateInactivityDetectionAfter,
	}
	for field, value := range durations {
		if value <= 0 {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("%s must be greater than zero", field)).
				WithDetail("field", field).
				WithDetail("value", value)
		}
	}

	if c.Recording.ChunkInterval < 100 {
		return errors.New(errors.ErrCodeConfigValidation, "recording.chunk_interval must be at least 100ms").
			WithDetail("value", c.Recording.ChunkInterval)
	}

	if err := validateStorage(&c.Storage); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid storage configuration")
	}

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("api.base_url is not an absolute URL: %s", c.API.BaseURL)).
				WithDetail("value", c.API.BaseURL)
		}
	}

	return nil
}

func validateStorage(s *StorageConfig) error {
	switch s.Backend {
	case "local":
		return nil
	case "gcs":
		if s.Bucket == "" {
			return errors.New(errors.ErrCodeConfigValidation, "storage.bucket is required for the gcs backend")
		}
		return nil
	default:
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown storage backend: %s", s.Backend)).
			WithDetail("backend", s.Backend)
	}
}
