package session

import (
	"context"
	stderrors "errors"

	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/grovetools/meetbot/pkg/surface"
	"github.com/sirupsen/logrus"
)

// preJoin takes the page from a blank tab to a clicked join button.
func (m *Machine) preJoin(ctx context.Context, page surface.Surface, sess *models.Session, profile *provider.Profile, log *logrus.Entry) error {
	if err := sleep(ctx, m.Timings.LaunchSettle); err != nil {
		return err
	}

	log.WithField("url", sess.URL).Info("Navigating to meeting")
	if err := page.Navigate(ctx, sess.URL); err != nil {
		return m.stepFailed(ctx, page, "navigate", "", err)
	}
	if err := sleep(ctx, m.Timings.PageSettle); err != nil {
		return err
	}

	if current, err := page.CurrentURL(ctx); err == nil && provider.IsSignInURL(current) {
		log.WithField("url", current).Warn("Meeting requires sign in")
		return errors.UnsupportedSession("meeting requires sign in", errors.PageStatusSignIn)
	}

	if err := m.clickOptional(ctx, page, "cookie consent", profile.CookieConsent, log); err != nil {
		return err
	}
	if err := m.clickOptional(ctx, page, "guest join", profile.GuestJoin, log); err != nil {
		return err
	}

	if err := m.fillName(ctx, page, sess.Name, profile, log); err != nil {
		return err
	}

	if err := m.allowPermissions(ctx, page, profile, log); err != nil {
		return err
	}

	join, err := page.Locate(ctx, profile.JoinButton, m.Timings.CandidateWait)
	if err != nil {
		return m.stepFailed(ctx, page, "join button", "join-button-click",
			missingOr(err, errors.ElementMissing("join button", profile.JoinButton)))
	}
	if err := page.Click(ctx, join); err != nil {
		return m.stepFailed(ctx, page, "join button", "join-button-click", err)
	}
	log.WithField("selector", join).Info("Clicked join button")
	return sleep(ctx, m.Timings.StepPause)
}

func (m *Machine) fillName(ctx context.Context, page surface.Surface, name string, profile *provider.Profile, log *logrus.Entry) error {
	if name == "" {
		name = provider.DefaultBotName
	}
	input, err := page.Locate(ctx, profile.NameInput, m.Timings.NameWait)
	if err != nil {
		return m.stepFailed(ctx, page, "name input", "name-input-field",
			missingOr(err, errors.ElementMissing("name input", profile.NameInput)))
	}
	// The field is prefilled with a guest placeholder.
	if err := page.Fill(ctx, input, ""); err != nil {
		return m.stepFailed(ctx, page, "name input", "name-input-field-error", err)
	}
	if err := page.Fill(ctx, input, name); err != nil {
		return m.stepFailed(ctx, page, "name input", "name-input-field-error", err)
	}
	log.WithFields(logrus.Fields{"selector": input, "name": name}).Info("Filled display name")
	return sleep(ctx, m.Timings.StepPause/2)
}

// clickOptional clicks the first visible candidate. Missing elements are not an error.
func (m *Machine) clickOptional(ctx context.Context, page surface.Surface, step string, candidates []string, log *logrus.Entry) error {
	if len(candidates) == 0 {
		return nil
	}
	log = log.WithField("step", step)
	sel, err := page.Locate(ctx, candidates, m.Timings.CandidateWait)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("Optional element not present")
		return nil
	}
	if err := page.Click(ctx, sel); err != nil {
		log.WithError(err).Info("Optional click failed, proceeding")
		return nil
	}
	log.WithField("selector", sel).Info("Clicked")
	return sleep(ctx, m.Timings.StepPause)
}

// allowPermissions clicks every visible permission prompt.
func (m *Machine) allowPermissions(ctx context.Context, page surface.Surface, profile *provider.Profile, log *logrus.Entry) error {
	for _, candidate := range profile.Permissions {
		sel, err := page.Locate(ctx, []string{candidate}, m.Timings.PermissionWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := page.Click(ctx, sel); err != nil {
			log.WithError(err).WithField("selector", sel).Debug("Permission click failed")
			continue
		}
		log.WithField("selector", sel).Info("Accepted permission prompt")
		if err := sleep(ctx, m.Timings.StepPause/2); err != nil {
			return err
		}
	}
	return nil
}

// dismissDialogs closes post-join dialogs. Failures are logged and ignored.
func (m *Machine) dismissDialogs(ctx context.Context, page surface.Surface, profile *provider.Profile, log *logrus.Entry) {
	for _, candidate := range profile.DialogClose {
		sel, err := page.Locate(ctx, []string{candidate}, m.Timings.DialogWait)
		if err != nil {
			continue
		}
		if err := page.Click(ctx, sel); err != nil {
			log.WithError(err).WithField("selector", sel).Debug("Dialog close click failed")
			continue
		}
		log.WithField("selector", sel).Info("Dismissed dialog")
	}
}

// stepFailed dispatches a screenshot when shot is set and wraps err as a capture failure.
func (m *Machine) stepFailed(ctx context.Context, page surface.Surface, step, shot string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if shot != "" && m.Diagnostics != nil {
		m.Diagnostics.Capture(ctx, page, shot)
	}
	return errors.CaptureFailure(step, err)
}

// missingOr replaces surface.ErrNotFound with the element-missing error.
func missingOr(err error, missing error) error {
	if stderrors.Is(err, surface.ErrNotFound) {
		return missing
	}
	return err
}
