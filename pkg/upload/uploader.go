// Package upload buffers recording chunks in a temp artifact and hands the
// finished file to a storage sink.
package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/grovetools/meetbot/util/sanitize"
	"github.com/sirupsen/logrus"
)

// DefaultContentType is the MIME type of uploaded recordings.
const DefaultContentType = "video/webm"

// Options describes one session's artifact.
type Options struct {
	// Dir holds the temp artifact; typically paths.ArtifactDir().
	Dir         string
	Folder      string
	UserID      string
	BotID       string
	Provider    models.Provider
	ContentType string
	Now         func() time.Time
	Logger      *logrus.Entry
}

// Result describes an uploaded artifact.
type Result struct {
	Key      string `json:"key" yaml:"key"`
	Location string `json:"location" yaml:"location"`
	Size     int64  `json:"size" yaml:"size"`
	Backend  string `json:"backend" yaml:"backend"`
}

// Uploader appends chunks to a temp file and uploads it on Finalize.
type Uploader struct {
	sink Sink
	opts Options

	mu        sync.Mutex
	file      *os.File
	path      string
	size      int64
	finalized bool
}

// NewUploader creates the temp artifact.
func NewUploader(sink Sink, opts Options) (*Uploader, error) {
	if opts.ContentType == "" {
		opts.ContentType = DefaultContentType
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	prefix := sanitize.ForFileName(opts.BotID)
	if prefix == "" {
		prefix = "session"
	}
	f, err := os.CreateTemp(opts.Dir, fmt.Sprintf("%s-%s-*.webm", prefix, uuid.NewString()[:8]))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	return &Uploader{sink: sink, opts: opts, file: f, path: f.Name()}, nil
}

// Path returns the temp artifact location.
func (u *Uploader) Path() string {
	return u.path
}

// SaveChunk appends data to the artifact.
func (u *Uploader) SaveChunk(_ context.Context, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finalized {
		return fmt.Errorf("artifact already finalized")
	}
	n, err := u.file.Write(data)
	u.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append chunk: %w", err)
	}
	return nil
}

// Size returns the bytes written so far.
func (u *Uploader) Size() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.size
}

// ObjectKey is the storage key of the artifact.
func (u *Uploader) ObjectKey() string {
	name := fmt.Sprintf("%s %s.webm", provider.RecordingName(u.opts.Provider), u.opts.Now().UTC().Format("2006-01-02T15-04-05Z"))
	segments := []string{}
	if u.opts.Folder != "" {
		segments = append(segments, sanitize.ForObjectKey(u.opts.Folder))
	}
	user := sanitize.ForObjectKey(u.opts.UserID)
	if user == "" {
		user = "anonymous"
	}
	segments = append(segments, user, sanitize.ForObjectKey(name))
	return path.Join(segments...)
}

// Finalize closes the artifact and uploads it. A nil result with a nil error
// means nothing was recorded. The temp file is kept when the upload fails.
func (u *Uploader) Finalize(ctx context.Context) (*Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finalized {
		return nil, fmt.Errorf("artifact already finalized")
	}
	u.finalized = true

	log := u.opts.Logger.WithFields(logrus.Fields{"artifact": u.path, "size": u.size})
	if err := u.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp artifact: %w", err)
	}
	if u.size == 0 {
		log.Warn("Recording is empty, nothing to upload")
		_ = os.Remove(u.path)
		return nil, nil
	}

	f, err := os.Open(u.path)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen temp artifact: %w", err)
	}
	defer f.Close()

	key := u.ObjectKey()
	location, err := u.sink.Put(ctx, key, f, u.opts.ContentType)
	if err != nil {
		log.WithError(err).Error("Upload failed, keeping temp artifact")
		return nil, err
	}
	if err := os.Remove(u.path); err != nil {
		log.WithError(err).Warn("Failed to remove temp artifact")
	}

	log.WithFields(logrus.Fields{"backend": u.sink.Name(), "location": location}).Info("Recording uploaded")
	return &Result{Key: key, Location: location, Size: u.size, Backend: u.sink.Name()}, nil
}

// Discard closes and removes the temp artifact without uploading.
func (u *Uploader) Discard() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.finalized {
		u.finalized = true
		_ = u.file.Close()
	}
	if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
