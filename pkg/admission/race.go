// Package admission decides whether the bot was let into a meeting within the wait budget.
package admission

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the time between admission checks.
const DefaultPollInterval = 5 * time.Second

// Reason explains how a race resolved.
type Reason string

const (
	ReasonAdmitted Reason = "admitted"
	ReasonDenied   Reason = "denied"
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
)

// Result is the outcome of a race.
type Result struct {
	Admitted bool
	Reason   Reason
	// Signal describes what resolved the race (a URL, selector list or phrase).
	Signal string
}

// Probe exposes the three admission signals of the page.
type Probe interface {
	CurrentURL(ctx context.Context) (string, error)
	ContentVisible(ctx context.Context, selectors []string) (bool, error)
	BodyText(ctx context.Context) (string, error)
}

// Rules are the provider facts the race checks against.
type Rules interface {
	IsLobbyURL(url string) bool
	MatchDenial(text string) (string, bool)
}

// Options configures a race.
type Options struct {
	Wait             time.Duration
	PollInterval     time.Duration
	Rules            Rules
	ContentSelectors []string
	Logger           *logrus.Entry
}

// Race polls the probe until one signal wins or the wait budget elapses.
// The deadline wins over any signal observed after it.
func Race(ctx context.Context, probe Probe, opts Options) (Result, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	// Probes run under the deadline so a hung page evaluation cannot outlive the wait budget.
	pollCtx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return resolveDone(ctx, opts, log)
		case <-ticker.C:
		}

		// A tick and the deadline may be ready together; the deadline wins.
		if pollCtx.Err() != nil {
			return resolveDone(ctx, opts, log)
		}

		res, ok := observe(pollCtx, probe, opts, log)
		if pollCtx.Err() != nil {
			return resolveDone(ctx, opts, log)
		}
		if ok {
			return res, nil
		}
	}
}

// resolveDone tells a session cancellation apart from an elapsed wait budget.
func resolveDone(ctx context.Context, opts Options, log *logrus.Entry) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Reason: ReasonCanceled}, err
	}
	log.WithField("wait", opts.Wait).Info("Admission wait elapsed")
	return Result{Reason: ReasonTimeout}, nil
}

// observe runs one poll. Probe errors are swallowed and only postpone the decision.
func observe(ctx context.Context, probe Probe, opts Options, log *logrus.Entry) (Result, bool) {
	url, err := probe.CurrentURL(ctx)
	if err != nil {
		log.WithError(err).Debug("Admission poll: url unavailable")
		return Result{}, false
	}
	if opts.Rules != nil && !opts.Rules.IsLobbyURL(url) {
		log.WithField("url", url).Info("Left the lobby")
		return Result{Admitted: true, Reason: ReasonAdmitted, Signal: url}, true
	}

	if len(opts.ContentSelectors) > 0 {
		visible, err := probe.ContentVisible(ctx, opts.ContentSelectors)
		if err != nil {
			log.WithError(err).Debug("Admission poll: content check failed")
			return Result{}, false
		}
		if visible {
			log.Info("Meeting content is visible")
			return Result{Admitted: true, Reason: ReasonAdmitted, Signal: "content"}, true
		}
	}

	text, err := probe.BodyText(ctx)
	if err != nil {
		log.WithError(err).Debug("Admission poll: page text unavailable")
		return Result{}, false
	}
	if opts.Rules != nil {
		if phrase, denied := opts.Rules.MatchDenial(text); denied {
			log.WithField("phrase", phrase).Info("Join request denied")
			return Result{Reason: ReasonDenied, Signal: phrase}, true
		}
	}
	return Result{}, false
}
