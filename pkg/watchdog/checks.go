package watchdog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/sirupsen/logrus"
)

// Default cadences.
const (
	SilenceInterval     = 100 * time.Millisecond
	SilenceThreshold    = 10.0
	ParticipantInterval = 5 * time.Second
	PageInterval        = 10 * time.Second
	ModalInterval       = 2 * time.Second

	// PageMaxFailures is how many consecutive unreachable checks mark the page invalid.
	PageMaxFailures = 3
)

// AudioProbe reads the energy of the captured audio.
type AudioProbe interface {
	HasAudio(ctx context.Context) (bool, error)
	AudioLevel(ctx context.Context) (float64, error)
}

// ParticipantProbe reads the participant count shown by the meeting UI.
// known is false when no heuristic could determine the count.
type ParticipantProbe interface {
	Participants(ctx context.Context) (count int, known bool, err error)
}

// PageProbe inspects the meeting page.
type PageProbe interface {
	CurrentURL(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	AnyPresent(ctx context.Context, selectors []string) (bool, error)
}

// DialogProbe clicks visible dialog buttons whose text contains one of labels.
type DialogProbe interface {
	DismissDialogs(ctx context.Context, labels []string) (int, error)
}

// sleep waits for d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Silence ends the recording after Limit of continuous silence.
type Silence struct {
	Probe     AudioProbe
	Limit     time.Duration
	Delay     time.Duration
	Interval  time.Duration
	Threshold float64
	State     *DetectionState
	Logger    *logrus.Entry
}

// Name returns the watchdog's name.
func (w *Silence) Name() string { return "silence" }

// Run samples the audio level until silence reaches the limit.
func (w *Silence) Run(ctx context.Context, trigger Trigger) error {
	interval := w.Interval
	if interval <= 0 {
		interval = SilenceInterval
	}
	threshold := w.Threshold
	if threshold <= 0 {
		threshold = SilenceThreshold
	}
	if w.State == nil {
		w.State = NewDetectionState(DefaultMaxFailures)
	}

	if !sleep(ctx, w.Delay) {
		return nil
	}

	var hasAudio bool
	for {
		var err error
		hasAudio, err = w.Probe.HasAudio(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		if w.State.Fail() {
			return fmt.Errorf("checking audio tracks failed %d times: %w", w.State.Failures, err)
		}
		if !sleep(ctx, interval) {
			return nil
		}
	}
	w.State.Succeed()
	if !hasAudio {
		w.Logger.Warn("No audio track, silence detection disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var silent time.Duration
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		level, err := w.Probe.AudioLevel(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A failed sample neither extends nor resets the silent stretch.
			if w.State.Fail() {
				return fmt.Errorf("sampling audio failed %d times: %w", w.State.Failures, err)
			}
			continue
		}
		w.State.Succeed()
		if level >= threshold {
			silent = 0
			continue
		}
		silent += interval
		if silent >= w.Limit {
			w.Logger.WithField("silence", silent).Warn("Meeting is silent")
			trigger(ReasonSilence)
			return nil
		}
	}
}

// LoneParticipant ends the recording when the bot is the only one left.
type LoneParticipant struct {
	Probe    ParticipantProbe
	Delay    time.Duration
	Interval time.Duration
	State    *DetectionState
	Logger   *logrus.Entry
}

// Name returns the watchdog's name.
func (w *LoneParticipant) Name() string { return "lone-participant" }

// Run polls the participant count until it drops below two.
func (w *LoneParticipant) Run(ctx context.Context, trigger Trigger) error {
	interval := w.Interval
	if interval <= 0 {
		interval = ParticipantInterval
	}
	if w.State == nil {
		w.State = NewDetectionState(DefaultMaxFailures)
	}

	if !sleep(ctx, w.Delay) {
		return nil
	}

	for {
		if !sleep(ctx, interval) {
			return nil
		}

		count, known, err := w.Probe.Participants(ctx)
		if err != nil || !known {
			if ctx.Err() != nil {
				return nil
			}
			disabled := w.State.Fail()
			w.Logger.WithField("failures", w.State.Failures).WithError(err).Debug("Participant count undetermined")
			if disabled {
				w.Logger.WithField("failures", w.State.Failures).Warn("Participant detection keeps failing, giving up")
				return nil
			}
			continue
		}

		w.State.Succeed()
		if count < 2 {
			w.Logger.WithField("participants", count).Info("Bot is alone")
			trigger(ReasonLoneParticipant)
			return nil
		}
	}
}

// PageValidity ends the recording when the page stops looking like a meeting.
type PageValidity struct {
	Probe    PageProbe
	Profile  *provider.Profile
	Interval time.Duration
	State    *DetectionState
	Logger   *logrus.Entry
}

// Name returns the watchdog's name.
func (w *PageValidity) Name() string { return "page-validity" }

// Run checks the page every interval.
func (w *PageValidity) Run(ctx context.Context, trigger Trigger) error {
	interval := w.Interval
	if interval <= 0 {
		interval = PageInterval
	}
	if w.State == nil {
		w.State = NewDetectionState(PageMaxFailures)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		problem, err := w.check(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !w.State.Fail() {
				w.Logger.WithError(err).WithField("failures", w.State.Failures).Debug("Page check failed")
				continue
			}
			problem = "page unreachable: " + err.Error()
		} else {
			w.State.Succeed()
		}
		if problem == "" {
			continue
		}
		w.Logger.WithField("problem", problem).Warn("Page is no longer a meeting")
		trigger(ReasonPageInvalid)
		return nil
	}
}

// check returns a description of why the page is invalid, or "" when it is fine.
// A probe error means the page could not be inspected this time.
func (w *PageValidity) check(ctx context.Context) (string, error) {
	url, err := w.Probe.CurrentURL(ctx)
	if err != nil {
		return "", fmt.Errorf("reading url: %w", err)
	}
	if w.Profile.ExpectedDomain != "" && !strings.Contains(url, w.Profile.ExpectedDomain) {
		return "left meeting domain: " + url, nil
	}

	text, err := w.Probe.BodyText(ctx)
	if err != nil {
		return "", fmt.Errorf("reading page text: %w", err)
	}
	if phrase, ok := w.Profile.MatchRemoval(text); ok {
		return "removal text: " + phrase, nil
	}

	if len(w.Profile.MeetingElements) > 0 {
		present, err := w.Probe.AnyPresent(ctx, w.Profile.MeetingElements)
		if err != nil {
			return "", fmt.Errorf("checking meeting elements: %w", err)
		}
		if !present {
			return "meeting elements missing", nil
		}
	}
	return "", nil
}

// ModalDismissal clicks away dialogs that would cover the meeting. It never ends the recording.
type ModalDismissal struct {
	Probe    DialogProbe
	Labels   []string
	Interval time.Duration
	State    *DetectionState
	Logger   *logrus.Entry
}

// Name returns the watchdog's name.
func (w *ModalDismissal) Name() string { return "modal-dismissal" }

// Run dismisses dialogs until canceled or until errors pile up.
func (w *ModalDismissal) Run(ctx context.Context, _ Trigger) error {
	interval := w.Interval
	if interval <= 0 {
		interval = ModalInterval
	}
	if w.State == nil {
		w.State = NewDetectionState(DefaultMaxFailures)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		clicked, err := w.Probe.DismissDialogs(ctx, w.Labels)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lastErr = err
			if w.State.Fail() {
				return fmt.Errorf("failed to dismiss dialogs %d times: %w", w.State.Failures, lastErr)
			}
			continue
		}
		w.State.Succeed()
		if clicked > 0 {
			w.Logger.WithField("clicked", clicked).Debug("Dismissed dialogs")
		}
	}
}
