// Package diagnostics uploads page screenshots taken when a UI step fails.
package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/grovetools/meetbot/pkg/upload"
	"github.com/grovetools/meetbot/util/sanitize"
	"github.com/sirupsen/logrus"
)

const captureTimeout = 10 * time.Second

// Screenshotter is the part of a surface the dispatcher needs.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Options configures a Dispatcher.
type Options struct {
	Enabled bool
	Folder  string
	UserID  string
	BotID   string
	Now     func() time.Time
	Logger  *logrus.Entry
}

// Dispatcher captures and stores debug screenshots. All failures are logged
// and swallowed.
type Dispatcher struct {
	sink upload.Sink
	opts Options
}

// New creates a Dispatcher. A nil sink disables uploads.
func New(sink upload.Sink, opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{sink: sink, opts: opts}
}

// Key returns the object key for a screenshot named name.
func (d *Dispatcher) Key(name string) string {
	user := sanitize.ForObjectKey(d.opts.UserID)
	if user == "" {
		user = "anonymous"
	}
	bot := sanitize.ForObjectKey(d.opts.BotID)
	if bot == "" {
		bot = "bot"
	}
	file := fmt.Sprintf("%s-%s.png", sanitize.ForObjectKey(name), d.opts.Now().UTC().Format("2006-01-02T15-04-05.000Z"))
	if d.opts.Folder == "" {
		return path.Join(user, bot, file)
	}
	return path.Join(sanitize.ForObjectKey(d.opts.Folder), user, bot, file)
}

// Capture takes a screenshot and uploads it under name. It returns the stored
// location, or "" when nothing was stored.
func (d *Dispatcher) Capture(ctx context.Context, s Screenshotter, name string) string {
	log := d.opts.Logger.WithField("screenshot", name)
	if !d.opts.Enabled {
		log.Debug("Debug image upload is disabled")
		return ""
	}
	if d.sink == nil {
		log.Debug("No debug image sink configured, skipping")
		return ""
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	png, err := s.Screenshot(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to capture screenshot")
		return ""
	}
	location, err := d.sink.Put(ctx, d.Key(name), bytes.NewReader(png), "image/png")
	if err != nil {
		log.WithError(err).Error("Failed to upload debug image")
		return ""
	}
	log.WithField("location", location).Info("Debug image uploaded")
	return location
}
