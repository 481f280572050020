package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the root of meetbot.yml / meetbot.toml.
type Config struct {
	Version    string                 `yaml:"version,omitempty" toml:"version,omitempty" jsonschema:"description=Configuration version (e.g. '1.0')"`
	Session    SessionConfig          `yaml:"session,omitempty" toml:"session,omitempty" jsonschema:"description=Admission and inactivity timing"`
	Recording  RecordingConfig        `yaml:"recording,omitempty" toml:"recording,omitempty" jsonschema:"description=Media capture settings"`
	Browser    BrowserConfig          `yaml:"browser,omitempty" toml:"browser,omitempty" jsonschema:"description=Browser launch settings"`
	API        APIConfig              `yaml:"api,omitempty" toml:"api,omitempty" jsonschema:"description=Backend status and log API"`
	Storage    StorageConfig          `yaml:"storage,omitempty" toml:"storage,omitempty" jsonschema:"description=Where recordings and debug screenshots are stored"`
	Control    ControlConfig          `yaml:"control,omitempty" toml:"control,omitempty" jsonschema:"description=Local control socket and stop file"`
	Extensions map[string]interface{} `yaml:"extensions,omitempty" toml:"extensions,omitempty" jsonschema:"description=Free-form sections read by other components (e.g. logging)"`
}

// SessionConfig holds the timing budget of a single session. All values are minutes.
type SessionConfig struct {
	WaitForAdmission                 float64 `yaml:"wait_for_admission,omitempty" toml:"wait_for_admission,omitempty" jsonschema:"minimum=0,description=Minutes to wait in the lobby before giving up"`
	MaxRecordingDuration             float64 `yaml:"max_recording_duration,omitempty" toml:"max_recording_duration,omitempty" jsonschema:"minimum=0,description=Hard limit on capture length in minutes"`
	InactivityLimit                  float64 `yaml:"inactivity_limit,omitempty" toml:"inactivity_limit,omitempty" jsonschema:"minimum=0,description=Minutes of continuous silence that end the capture"`
	ActivateInactivityDetectionAfter float64 `yaml:"activate_inactivity_detection_after,omitempty" toml:"activate_inactivity_detection_after,omitempty" jsonschema:"minimum=0,description=Minutes after capture start before silence and lone-participant detection begin"`
}

// RecordingConfig configures the in-page media recorder.
type RecordingConfig struct {
	ChunkInterval    int    `yaml:"chunk_interval,omitempty" toml:"chunk_interval,omitempty" jsonschema:"minimum=0,description=Milliseconds of media per chunk"`
	PrimaryMimeType  string `yaml:"primary_mime_type,omitempty" toml:"primary_mime_type,omitempty" jsonschema:"description=Preferred MediaRecorder encoding"`
	FallbackMimeType string `yaml:"fallback_mime_type,omitempty" toml:"fallback_mime_type,omitempty" jsonschema:"description=Encoding used when the primary one is unsupported"`
}

// BrowserConfig configures the controlled browser.
type BrowserConfig struct {
	ExecutablePath string `yaml:"executable_path,omitempty" toml:"executable_path,omitempty" jsonschema:"description=Chrome or Chromium binary"`
	Headless       bool   `yaml:"headless,omitempty" toml:"headless,omitempty" jsonschema:"description=Run without a visible window"`
	LaunchTimeout  int    `yaml:"launch_timeout,omitempty" toml:"launch_timeout,omitempty" jsonschema:"minimum=0,description=Seconds to wait for the browser to start"`
	UserAgent      string `yaml:"user_agent,omitempty" toml:"user_agent,omitempty" jsonschema:"description=User agent override"`
}

// APIConfig points at the backend status/log API.
type APIConfig struct {
	BaseURL    string `yaml:"base_url,omitempty" toml:"base_url,omitempty" jsonschema:"description=Base URL of the bot API; empty disables reporting"`
	ServiceKey string `yaml:"service_key,omitempty" toml:"service_key,omitempty" jsonschema:"description=Service key sent with every request"`
	Timeout    int    `yaml:"timeout,omitempty" toml:"timeout,omitempty" jsonschema:"minimum=0,description=Request timeout in seconds"`
}

// StorageConfig selects the upload sink.
type StorageConfig struct {
	Backend     string `yaml:"backend,omitempty" toml:"backend,omitempty" jsonschema:"enum=local,enum=gcs,description=Upload sink"`
	Bucket      string `yaml:"bucket,omitempty" toml:"bucket,omitempty" jsonschema:"description=GCS bucket for recordings"`
	Folder      string `yaml:"folder,omitempty" toml:"folder,omitempty" jsonschema:"description=Object prefix for recordings"`
	LocalDir    string `yaml:"local_dir,omitempty" toml:"local_dir,omitempty" jsonschema:"description=Destination directory for the local backend"`
	DebugBucket string `yaml:"debug_bucket,omitempty" toml:"debug_bucket,omitempty" jsonschema:"description=GCS bucket for debug screenshots"`
	DebugFolder string `yaml:"debug_folder,omitempty" toml:"debug_folder,omitempty" jsonschema:"description=Object prefix for debug screenshots"`
	DebugImages *bool  `yaml:"debug_images,omitempty" toml:"debug_images,omitempty" jsonschema:"description=Upload screenshots when a UI step fails (default: true)"`
}

// ControlConfig configures host early-end signals and observers.
type ControlConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty" toml:"enabled,omitempty" jsonschema:"description=Serve the control socket (default: true)"`
	SocketPath string `yaml:"socket_path,omitempty" toml:"socket_path,omitempty" jsonschema:"description=Override the control socket path"`
	StopFile   string `yaml:"stop_file,omitempty" toml:"stop_file,omitempty" jsonschema:"description=Creating this file ends the session early"`
}

const (
	DefaultWaitForAdmission     = 10.0
	DefaultMaxRecordingDuration = 180.0
	DefaultInactivityLimit      = 1.0
	DefaultActivateAfter        = 1.0
	DefaultChunkInterval        = 2000
	DefaultPrimaryMimeType      = "video/webm"
	DefaultFallbackMimeType     = "video/webm;codecs=vp9"
	DefaultLaunchTimeout        = 60
	DefaultAPITimeout           = 15
	DefaultUserAgent            = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
	DefaultRecordingFolder      = "recordings"
	DefaultDebugFolder          = "debug"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with their defaults.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Session.WaitForAdmission == 0 {
		c.Session.WaitForAdmission = DefaultWaitForAdmission
	}
	if c.Session.MaxRecordingDuration == 0 {
		c.Session.MaxRecordingDuration = DefaultMaxRecordingDuration
	}
	if c.Session.InactivityLimit == 0 {
		c.Session.InactivityLimit = DefaultInactivityLimit
	}
	if c.Session.ActivateInactivityDetectionAfter == 0 {
		c.Session.ActivateInactivityDetectionAfter = DefaultActivateAfter
	}
	if c.Recording.ChunkInterval == 0 {
		c.Recording.ChunkInterval = DefaultChunkInterval
	}
	if c.Recording.PrimaryMimeType == "" {
		c.Recording.PrimaryMimeType = DefaultPrimaryMimeType
	}
	if c.Recording.FallbackMimeType == "" {
		c.Recording.FallbackMimeType = DefaultFallbackMimeType
	}
	if c.Browser.LaunchTimeout == 0 {
		c.Browser.LaunchTimeout = DefaultLaunchTimeout
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = DefaultUserAgent
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Folder == "" {
		c.Storage.Folder = DefaultRecordingFolder
	}
	if c.Storage.DebugFolder == "" {
		c.Storage.DebugFolder = DefaultDebugFolder
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// AdmissionWait is the lobby wait budget.
func (s SessionConfig) AdmissionWait() time.Duration { return minutes(s.WaitForAdmission) }

// MaxDuration is the hard capture limit.
func (s SessionConfig) MaxDuration() time.Duration { return minutes(s.MaxRecordingDuration) }

// Inactivity is the silence limit.
func (s SessionConfig) Inactivity() time.Duration { return minutes(s.InactivityLimit) }

// ActivationDelay is how long inactivity detection waits after capture starts.
func (s SessionConfig) ActivationDelay() time.Duration {
	return minutes(s.ActivateInactivityDetectionAfter)
}

// Chunk is the media slice length.
func (r RecordingConfig) Chunk() time.Duration {
	return time.Duration(r.ChunkInterval) * time.Millisecond
}

// ControlEnabled reports whether the control socket should be served.
func (c ControlConfig) ControlEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DebugImagesEnabled reports whether failure screenshots are uploaded.
func (s StorageConfig) DebugImagesEnabled() bool {
	return s.DebugImages == nil || *s.DebugImages
}

// UnmarshalExtension decodes a custom section from the 'extensions' map of the
// loaded configuration into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
