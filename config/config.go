package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/pkg/paths"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Format is the syntax of a configuration document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// configNames lists the file names searched for, in order of preference.
var configNames = []string{
	"meetbot.yml",
	"meetbot.yaml",
	"meetbot.toml",
	".meetbot.yml",
	".meetbot.yaml",
}

// FormatForPath picks the document format from a file extension.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := LoadFromBytes(data, FormatForPath(path))
	if err != nil {
		if botErr, ok := errors.As(err); ok {
			botErr.WithDetail("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadDefault finds and loads the configuration starting from the working directory.
// When no file exists the defaults (plus environment overrides) are returned.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	return LoadFromWithLogger(cwd, logrus.New())
}

// LoadFromWithLogger loads configuration found from startDir, logging what was picked.
func LoadFromWithLogger(startDir string, logger *logrus.Logger) (*Config, error) {
	path, err := FindConfigFile(startDir)
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			logger.Debug("No configuration file found, using defaults")
			cfg := Default()
			if err := cfg.ApplyEnv(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	logger.WithField("path", path).Debug("Loading configuration")
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if data, err := yaml.Marshal(cfg); err == nil {
			logger.Debugf("Effective configuration:\n%s", string(data))
		}
	}
	return cfg, nil
}

// LoadFromBytes parses, validates and completes a configuration document.
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	// Expand environment variables
	expanded := []byte(expandEnvVars(string(data)))

	raw, err := decodeRaw(expanded, format)
	if err != nil {
		return nil, err
	}

	// Validate the document shape against the schema before decoding into structs.
	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := validator.Validate(raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	var cfg Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
	default:
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	}

	cfg.SetDefaults()

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// decodeRaw parses a document into plain JSON-compatible values for schema validation.
func decodeRaw(data []byte, format Format) (interface{}, error) {
	var raw map[string]interface{}
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	// Round-trip through JSON so numbers and nested maps have the types the validator expects.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "configuration is not representable as JSON")
	}
	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "configuration is not representable as JSON")
	}
	return doc, nil
}

// FindConfigFile searches for meetbot configuration files with the following precedence:
// 1. Current directory up to filesystem root
// 2. The meetbot config directory (~/.config/meetbot/meetbot.yml)
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if configDir := paths.ConfigDir(); configDir != "" {
		for _, name := range configNames[:3] {
			path := filepath.Join(configDir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// ApplyEnv applies MEETBOT_* environment overrides on top of file values.
func (c *Config) ApplyEnv() error {
	floats := map[string]*float64{
		"MEETBOT_WAIT_FOR_ADMISSION":                  &c.Session.WaitForAdmission,
		"MEETBOT_MAX_RECORDING_DURATION":              &c.Session.MaxRecordingDuration,
		"MEETBOT_INACTIVITY_LIMIT":                    &c.Session.InactivityLimit,
		"MEETBOT_ACTIVATE_INACTIVITY_DETECTION_AFTER": &c.Session.ActivateInactivityDetectionAfter,
	}
	for key, target := range floats {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			msg := fmt.Sprintf("%s must be a number of minutes", key)
			return errors.ConfigInvalid(msg).
				WithDetail("variable", key).
				WithDetail("value", value)
		}
		*target = parsed
	}

	strs := map[string]*string{
		"MEETBOT_API_URL":        &c.API.BaseURL,
		"MEETBOT_SERVICE_KEY":    &c.API.ServiceKey,
		"MEETBOT_CHROME_PATH":    &c.Browser.ExecutablePath,
		"MEETBOT_STORAGE":        &c.Storage.Backend,
		"MEETBOT_STORAGE_BUCKET": &c.Storage.Bucket,
		"MEETBOT_DEBUG_BUCKET":   &c.Storage.DebugBucket,
		"MEETBOT_STOP_FILE":      &c.Control.StopFile,
	}
	for key, target := range strs {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}

	if value := os.Getenv("MEETBOT_DEBUG_IMAGES"); value != "" {
		enabled := value != "false" && value != "0"
		c.Storage.DebugImages = &enabled
	}
	return nil
}
