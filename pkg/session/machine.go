// Package session runs one bot session from launch to upload.
package session

import (
	"context"
	"time"

	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/pkg/admission"
	"github.com/grovetools/meetbot/pkg/capture"
	"github.com/grovetools/meetbot/pkg/diagnostics"
	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/profiling"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/grovetools/meetbot/pkg/surface"
	"github.com/grovetools/meetbot/pkg/upload"
	"github.com/sirupsen/logrus"
)

// StatusReporter receives the full status history after every transition.
type StatusReporter interface {
	PatchStatus(ctx context.Context, update models.StatusUpdate) bool
}

// ErrorReporter forwards classified failures.
type ErrorReporter interface {
	Report(ctx context.Context, sess *models.Session, err error) bool
}

// Diagnostics captures a screenshot when a UI step fails.
type Diagnostics interface {
	Capture(ctx context.Context, s diagnostics.Screenshotter, name string) string
}

// Artifact receives chunks during capture and is finalized afterwards.
type Artifact interface {
	SaveChunk(ctx context.Context, data []byte) error
	// Finalize returns nil when nothing was recorded.
	Finalize(ctx context.Context) (*upload.Result, error)
	Discard() error
}

// Observer is told about status changes and the capture lifecycle. Optional.
type Observer interface {
	StatusChanged(sess *models.Session)
	CaptureEnded(reason string)
}

// Timings are the pauses and per-step waits of a session.
type Timings struct {
	// LaunchSettle is the pause between browser launch and navigation.
	LaunchSettle time.Duration
	// PageSettle is the pause after navigation before looking for controls.
	PageSettle time.Duration
	// StepPause follows every successful click.
	StepPause time.Duration
	// CandidateWait bounds each selector candidate of optional steps and the join button.
	CandidateWait time.Duration
	// NameWait bounds each name input candidate.
	NameWait time.Duration
	// PermissionWait bounds each permission prompt candidate.
	PermissionWait time.Duration
	// DialogWait bounds each dialog close candidate.
	DialogWait time.Duration
	// DialogPause separates the two post-join dialog sweeps.
	DialogPause time.Duration
	// AdmissionPoll is the admission race tick.
	AdmissionPoll time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		LaunchSettle:   time.Second,
		PageSettle:     10 * time.Second,
		StepPause:      2 * time.Second,
		CandidateWait:  5 * time.Second,
		NameWait:       10 * time.Second,
		PermissionWait: 3 * time.Second,
		DialogWait:     2 * time.Second,
		DialogPause:    3 * time.Second,
		AdmissionPoll:  admission.DefaultPollInterval,
	}
}

// Params describe one session.
type Params struct {
	Session *models.Session
	// AdmissionWait is the lobby wait budget.
	AdmissionWait time.Duration
	Launch        surface.LaunchOptions
	// Capture is copied into the runtime; Secret and Profile are filled in by Run.
	Capture  capture.Config
	Artifact Artifact
	// HostEnd ends the session early when closed. Optional.
	HostEnd <-chan struct{}
}

// Machine drives sessions. Its collaborators are shared across runs.
type Machine struct {
	Launcher    surface.Launcher
	Status      StatusReporter
	Errors      ErrorReporter
	Diagnostics Diagnostics
	Observer    Observer
	Timings     Timings
	Logger      *logrus.Entry
}

// Run executes the session. The status history always ends terminal, the
// backend is told before Run returns, and the surface is closed on every path.
func (m *Machine) Run(ctx context.Context, p Params) error {
	sess := p.Session
	log := m.logger().WithFields(logrus.Fields{
		"session":  sess.CorrelationID,
		"provider": sess.Provider,
		"bot_id":   sess.BotID,
	})

	ctx, cancel := withHostEnd(ctx, p.HostEnd)
	defer cancel()
	defer profiling.Start("session").Stop()

	m.transition(ctx, sess, models.StatusProcessing, log)

	if err := m.attend(ctx, sess, p, log); err != nil {
		return m.fail(ctx, sess, p.Artifact, err, log)
	}
	m.transition(ctx, sess, models.StatusFinished, log)

	return m.finalize(ctx, sess, p.Artifact, log)
}

// attend covers everything between launch and capture end.
func (m *Machine) attend(ctx context.Context, sess *models.Session, p Params, log *logrus.Entry) error {
	profile, err := provider.Lookup(sess.Provider)
	if err != nil {
		return errors.UnsupportedSession(err.Error(), "")
	}
	if !profile.SupportsJoin() {
		return errors.UnsupportedSession("provider has no join profile: "+string(sess.Provider), "")
	}

	launch := p.Launch
	launch.CorrelationID = sess.CorrelationID
	launch.FakeMediaDevices = launch.FakeMediaDevices || profile.FakeMediaDevices
	log.Info("Launching browser")
	span := profiling.Start("launch")
	page, err := m.Launcher.Launch(ctx, launch)
	span.Stop()
	if err != nil {
		return err
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.WithError(err).Warn("Failed to close browser")
		}
	}()

	span = profiling.Start("pre-join")
	err = m.preJoin(ctx, page, sess, profile, log)
	span.Stop()
	if err != nil {
		return err
	}

	span = profiling.Start("admission")
	err = m.awaitAdmission(ctx, page, p, profile, log)
	span.Stop()
	if err != nil {
		return err
	}
	m.transition(ctx, sess, models.StatusJoined, log)

	m.dismissDialogs(ctx, page, profile, log)
	if err := sleep(ctx, m.Timings.DialogPause); err != nil {
		return err
	}
	m.dismissDialogs(ctx, page, profile, log)

	cfg := p.Capture
	cfg.Secret = sess.Secret
	cfg.Profile = profile
	rt := capture.New(page, p.Artifact, cfg, log.WithField("component", "capture"))
	defer profiling.Start("capture").Stop()
	if _, err := rt.Start(ctx); err != nil {
		return err
	}

	reason := rt.Wait(ctx)
	if m.Observer != nil {
		m.Observer.CaptureEnded(reason)
	}
	return nil
}

func (m *Machine) awaitAdmission(ctx context.Context, page surface.Surface, p Params, profile *provider.Profile, log *logrus.Entry) error {
	probe := &capture.PageProbe{Surface: page}
	res, err := admission.Race(ctx, probe, admission.Options{
		Wait:             p.AdmissionWait,
		PollInterval:     m.Timings.AdmissionPoll,
		Rules:            profile,
		ContentSelectors: profile.ContentSelectors,
		Logger:           log.WithField("component", "admission"),
	})
	if err != nil {
		return err
	}
	if res.Admitted {
		log.WithField("signal", res.Signal).Info("Admitted to meeting")
		return nil
	}

	textCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.Timings.CandidateWait)
	defer cancel()
	body, bodyErr := probe.BodyText(textCtx)
	if bodyErr != nil {
		log.WithError(bodyErr).Debug("Failed to read page text after admission wait")
	}
	log.WithField("reason", res.Reason).Warn("Bot was not admitted")
	return errors.AdmissionFailure("bot was not admitted to the meeting", body, false).
		WithDetail("reason", string(res.Reason))
}

// fail records a terminal failure, reports it and returns err.
func (m *Machine) fail(ctx context.Context, sess *models.Session, artifact Artifact, err error, log *logrus.Entry) error {
	log.WithError(err).Error("Session failed")
	if artifact != nil {
		if discardErr := artifact.Discard(); discardErr != nil {
			log.WithError(discardErr).Warn("Failed to discard temp artifact")
		}
	}

	if !sess.History.Terminal() {
		m.transition(ctx, sess, models.StatusFailed, log)
	} else {
		m.reportStatus(ctx, sess, log)
	}

	if m.Errors != nil {
		m.Errors.Report(context.WithoutCancel(ctx), sess, err)
	}
	return err
}

// finalize uploads the artifact, downgrading a finished session when nothing usable was stored.
func (m *Machine) finalize(ctx context.Context, sess *models.Session, artifact Artifact, log *logrus.Entry) error {
	log.Info("Finalizing recording")
	defer profiling.Start("upload").Stop()
	res, err := artifact.Finalize(context.WithoutCancel(ctx))
	if err == nil && res != nil {
		log.WithFields(logrus.Fields{"location": res.Location, "size": res.Size}).Info("Session completed")
		return nil
	}

	reason := "empty recording"
	if err != nil {
		reason = "upload error"
	}
	if sess.History.Contains(models.StatusFinished) && sess.History.DowngradeFinished() {
		log.WithField("reason", reason).Error("Recording completed but upload failed")
		m.notify(sess)
		m.reportStatus(ctx, sess, log)
	}
	return errors.UploadFailure(reason, err)
}

func (m *Machine) transition(ctx context.Context, sess *models.Session, token models.StatusToken, log *logrus.Entry) {
	if err := sess.History.Push(token); err != nil {
		log.WithError(err).WithField("status", token).Warn("Ignoring status transition")
		return
	}
	log.WithField("status", token).Info("Session status changed")
	m.notify(sess)
	m.reportStatus(ctx, sess, log)
}

func (m *Machine) notify(sess *models.Session) {
	if m.Observer != nil {
		m.Observer.StatusChanged(sess)
	}
}

func (m *Machine) reportStatus(ctx context.Context, sess *models.Session, log *logrus.Entry) {
	if m.Status == nil {
		return
	}
	ok := m.Status.PatchStatus(context.WithoutCancel(ctx), models.StatusUpdate{
		EventID:  sess.EventID,
		BotID:    sess.BotID,
		Provider: sess.Provider,
		Status:   sess.History.Snapshot(),
	})
	if !ok {
		log.Debug("Status report was not accepted")
	}
}

func (m *Machine) logger() *logrus.Entry {
	if m.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return m.Logger
}

// withHostEnd cancels ctx when hostEnd closes.
func withHostEnd(ctx context.Context, hostEnd <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if hostEnd == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-hostEnd:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
