package logging

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	t.Setenv("MEETBOT_HOME", t.TempDir())

	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}
	if logger.Data["component"] != "test-component" {
		t.Errorf("Expected component to be 'test-component', got %v", logger.Data["component"])
	}
	if again := NewLogger("test-component"); again != logger {
		t.Error("Expected the cached logger to be returned for the same component")
	}
}

func TestLogLevelFromEnv(t *testing.T) {
	t.Setenv("MEETBOT_HOME", t.TempDir())
	t.Setenv("MEETBOT_LOG_LEVEL", "debug")

	logger := build("levels", Config{Level: "error"})
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected env level to win, got %s", logger.GetLevel())
	}

	t.Setenv("MEETBOT_LOG_LEVEL", "")
	logger = build("levels", Config{Level: "nonsense"})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected invalid level to fall back to info, got %s", logger.GetLevel())
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		level   logrus.Level
		fields  logrus.Fields
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			level:  logrus.InfoLevel,
			fields: logrus.Fields{"component": "watchdog", "reason": "silence"},
			want:   []string{"[INFO]", "[watchdog]", "guard fired", "reason=silence"},
		},
		{
			name:    "warning shortened",
			level:   logrus.WarnLevel,
			fields:  logrus.Fields{"component": "bridge"},
			want:    []string{"[WARN]"},
			notWant: []string{"WARNING"},
		},
		{
			name:    "component disabled",
			config:  FormatConfig{DisableComponent: true, DisableTimestamp: true},
			level:   logrus.ErrorLevel,
			fields:  logrus.Fields{"component": "report"},
			want:    []string{"[ERROR] guard fired"},
			notWant: []string{"[report]", "2006"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &TextFormatter{Config: tt.config}
			entry := &logrus.Entry{
				Logger:  logrus.New(),
				Data:    tt.fields,
				Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
				Level:   tt.level,
				Message: "guard fired",
			}
			out, err := f.Format(entry)
			if err != nil {
				t.Fatalf("Format returned error: %v", err)
			}
			got := string(out)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %q in %q", w, got)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("did not expect %q in %q", nw, got)
				}
			}
		})
	}
}

func TestTextFormatterSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&TextFormatter{Config: FormatConfig{DisableTimestamp: true}})

	logger.WithFields(logrus.Fields{"zeta": 1, "alpha": 2, "mid": 3}).Info("chunk")

	got := buf.String()
	if strings.Index(got, "alpha=") > strings.Index(got, "mid=") || strings.Index(got, "mid=") > strings.Index(got, "zeta=") {
		t.Errorf("expected sorted fields, got %q", got)
	}
}

func TestLogFilePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEETBOT_HOME", home)
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	got := LogFilePath("session", Config{}, day)
	want := filepath.Join(home, "state", "meetbot", "logs", "session-2026-03-04.log")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	if LogFilePath("session", Config{File: FileSinkConfig{Disabled: true}}, day) != "" {
		t.Error("expected disabled file sink to have no path")
	}

	custom := filepath.Join(home, "custom.log")
	if got := LogFilePath("session", Config{File: FileSinkConfig{Path: custom}}, day); got != custom {
		t.Errorf("expected custom path %s, got %s", custom, got)
	}
}

func TestPrettyLogger(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrettyLogger().WithWriter(&buf)

	p.Success("admitted")
	p.ErrorPretty("upload failed", errors.New("bucket missing"))
	p.Field("status", "joined")

	out := buf.String()
	for _, want := range []string{"admitted", "upload failed", "bucket missing", "status", "joined"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in pretty output %q", want, out)
		}
	}
}
