// Package capture runs the in-page recorder and the watchdogs that end it.
package capture

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/pkg/bridge"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/grovetools/meetbot/pkg/surface"
	"github.com/grovetools/meetbot/pkg/watchdog"
	"github.com/sirupsen/logrus"
)

//go:embed recorder.js
var recorderJS string

// DefaultGrace is how long the host waits for the final chunks after capture stops.
const DefaultGrace = 12 * time.Second

// Config describes one capture.
type Config struct {
	Secret           string
	ChunkInterval    time.Duration
	PrimaryMimeType  string
	FallbackMimeType string
	MaxDuration      time.Duration
	Inactivity       time.Duration
	ActivationDelay  time.Duration
	Grace            time.Duration
	Profile          *provider.Profile

	// Cadence overrides; zero uses the watchdog defaults.
	SilenceInterval     time.Duration
	ParticipantInterval time.Duration
	PageInterval        time.Duration
	ModalInterval       time.Duration
}

// StartResult is what the recorder script reports after starting.
type StartResult struct {
	Started  bool   `json:"started"`
	HasAudio bool   `json:"hasAudio"`
	MimeType string `json:"mimeType"`
	Error    string `json:"error"`
}

type recorderConfig struct {
	Secret           string `json:"secret"`
	ChunkInterval    int64  `json:"chunkInterval"`
	PrimaryMimeType  string `json:"primaryMimeType"`
	FallbackMimeType string `json:"fallbackMimeType"`
	ChunkBinding     string `json:"chunkBinding"`
	EndBinding       string `json:"endBinding"`
	FlushTimeout     int64  `json:"flushTimeout"`
}

// Runtime owns the recorder, the bridge and the watchdog set of one session.
type Runtime struct {
	surface surface.Surface
	bridge  *bridge.Bridge
	set     *watchdog.Set
	probe   *PageProbe
	cfg     Config
	logger  *logrus.Entry

	mu        sync.Mutex
	hardLimit *time.Timer
	info      StartResult
}

// New prepares a runtime writing accepted chunks to writer.
func New(s surface.Surface, writer bridge.ChunkWriter, cfg Config, logger *logrus.Entry) *Runtime {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	r := &Runtime{
		surface: s,
		bridge:  bridge.New(cfg.Secret, writer, logger.WithField("part", "bridge")),
		probe:   &PageProbe{Surface: s},
		cfg:     cfg,
		logger:  logger,
	}
	r.set = watchdog.NewSet(logger, watchdog.Teardown{
		StopMedia: r.stopMedia,
		SignalEnd: r.signalEnd,
	})
	return r
}

// Start exposes the bridge, starts the recorder and launches the watchdogs.
func (r *Runtime) Start(ctx context.Context) (StartResult, error) {
	if err := r.bridge.Bind(ctx, r.surface); err != nil {
		return StartResult{}, errors.CaptureFailure("expose bridge", err)
	}
	r.bridge.Start(context.WithoutCancel(ctx))

	script, err := r.startScript()
	if err != nil {
		return StartResult{}, errors.CaptureFailure("prepare recorder", err)
	}
	var res StartResult
	if err := r.surface.Evaluate(ctx, script, &res); err != nil {
		r.bridge.Close()
		return StartResult{}, errors.CaptureFailure("start recorder", err)
	}
	if !res.Started {
		r.bridge.Close()
		return res, errors.CaptureFailure("start recorder", fmt.Errorf("%s", res.Error))
	}
	r.mu.Lock()
	r.info = res
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"mime_type": res.MimeType,
		"has_audio": res.HasAudio,
	}).Info("Recording started")

	r.mu.Lock()
	r.hardLimit = time.AfterFunc(r.cfg.MaxDuration, func() {
		r.set.Fire(watchdog.ReasonMaxDuration)
	})
	r.mu.Unlock()

	r.registerWatchdogs()
	r.set.Start(context.WithoutCancel(ctx))

	go func() {
		select {
		case <-r.bridge.Ended():
			r.set.Fire(watchdog.ReasonPageEnded)
		case <-r.set.Guard().Done():
		}
	}()
	return res, nil
}

func (r *Runtime) startScript() (string, error) {
	rc := recorderConfig{
		Secret:           r.cfg.Secret,
		ChunkInterval:    r.cfg.ChunkInterval.Milliseconds(),
		PrimaryMimeType:  r.cfg.PrimaryMimeType,
		FallbackMimeType: r.cfg.FallbackMimeType,
		ChunkBinding:     bridge.BindingSubmitChunk,
		EndBinding:       bridge.BindingSessionEnd,
		FlushTimeout:     r.flushTimeout().Milliseconds(),
	}
	raw, err := json.Marshal(rc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s)(%s)", recorderJS, raw), nil
}

// flushTimeout is how long the page waits for the recorder's last chunk.
func (r *Runtime) flushTimeout() time.Duration {
	return r.cfg.Grace / 2
}

// teardownTimeout bounds each page call made while stopping. It outlasts the
// page flush so end() can resolve, and stays inside the grace period.
func (r *Runtime) teardownTimeout() time.Duration {
	return r.cfg.Grace * 3 / 4
}

func (r *Runtime) registerWatchdogs() {
	p := r.cfg.Profile
	r.set.Register(&watchdog.Silence{
		Probe:    r.probe,
		Limit:    r.cfg.Inactivity,
		Delay:    r.cfg.ActivationDelay,
		Interval: r.cfg.SilenceInterval,
		State:    watchdog.NewDetectionState(watchdog.DefaultMaxFailures),
		Logger:   r.logger.WithField("watchdog", "silence"),
	})
	r.set.Register(&watchdog.LoneParticipant{
		Probe:    r.probe,
		Delay:    r.cfg.ActivationDelay,
		Interval: r.cfg.ParticipantInterval,
		State:    watchdog.NewDetectionState(watchdog.DefaultMaxFailures),
		Logger:   r.logger.WithField("watchdog", "lone-participant"),
	})
	r.set.Register(&watchdog.PageValidity{
		Probe:    r.probe,
		Profile:  p,
		Interval: r.cfg.PageInterval,
		State:    watchdog.NewDetectionState(watchdog.PageMaxFailures),
		Logger:   r.logger.WithField("watchdog", "page-validity"),
	})
	r.set.Register(&watchdog.ModalDismissal{
		Probe:    r.probe,
		Labels:   p.DismissLabels,
		Interval: r.cfg.ModalInterval,
		State:    watchdog.NewDetectionState(watchdog.DefaultMaxFailures),
		Logger:   r.logger.WithField("watchdog", "modal-dismissal"),
	})
}

// stopMedia stops the recorder and releases the stream tracks.
func (r *Runtime) stopMedia(string) {
	r.mu.Lock()
	if r.hardLimit != nil {
		r.hardLimit.Stop()
	}
	r.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), r.teardownTimeout())
	defer cancel()
	var stopped bool
	if err := r.surface.Evaluate(ctx, `window.__meetbot ? window.__meetbot.stop() : false`, &stopped); err != nil {
		r.logger.WithError(err).Warn("Failed to stop recorder in page")
	}
}

// signalEnd asks the page to flush and send the end message. When the page
// cannot be reached the end is signaled on the host side instead.
func (r *Runtime) signalEnd(string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.teardownTimeout())
	defer cancel()
	var sent bool
	err := r.surface.Evaluate(ctx, `window.__meetbot ? window.__meetbot.end() : false`, &sent)
	if err != nil || !sent {
		if err != nil {
			r.logger.WithError(err).Warn("Page unreachable, ending session from host")
		}
		r.bridge.SignalSessionEnd(r.cfg.Secret)
	}
}

// End requests an early end from the host. It reports whether this call stopped the capture.
func (r *Runtime) End(reason string) bool {
	return r.set.Fire(reason)
}

// Wait blocks until the capture has stopped and the final chunks were flushed.
// Canceling ctx ends the capture with the host-end reason.
func (r *Runtime) Wait(ctx context.Context) string {
	select {
	case <-r.set.Guard().Done():
	case <-ctx.Done():
		r.set.Fire(watchdog.ReasonHostEnd)
	}

	flush := time.NewTimer(r.cfg.Grace)
	defer flush.Stop()
	select {
	case <-r.bridge.Ended():
	case <-flush.C:
		r.logger.WithField("grace", r.cfg.Grace).Warn("No end signal from page, closing bridge")
	}

	r.bridge.Close()
	r.set.Wait()

	accepted, foreign, failed := r.bridge.Stats()
	reason := r.set.Guard().Reason()
	r.logger.WithFields(logrus.Fields{
		"reason":   reason,
		"chunks":   accepted,
		"foreign":  foreign,
		"failures": failed,
	}).Info("Capture ended")
	return reason
}

// Info returns what the recorder reported when it started.
func (r *Runtime) Info() StartResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}
