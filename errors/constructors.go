package errors

import (
	"fmt"
	"strings"
)

// Page states reported by the surface for unsupported sessions.
const (
	PageStatusSignIn = "SIGN_IN_PAGE"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *BotError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *BotError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// AdmissionFailure creates an error for a bot that was not let into the meeting.
// bodyText is the page text captured when the wait ended.
func AdmissionFailure(message, bodyText string, retryable bool) *BotError {
	return New(ErrCodeAdmission, message).
		WithDetail("bodyText", bodyText).
		WithDetail("retryable", retryable)
}

// UnsupportedSession creates an error for a meeting the bot cannot attend.
func UnsupportedSession(message, pageStatus string) *BotError {
	return New(ErrCodeUnsupported, message).
		WithDetail("pageStatus", pageStatus)
}

// CaptureFailure wraps an error raised by a UI step before or during capture.
func CaptureFailure(step string, err error) *BotError {
	return Wrap(err, ErrCodeCapture, fmt.Sprintf("capture step failed: %s", step)).
		WithDetail("step", step)
}

// ElementMissing creates an error for a required element that no candidate matched.
func ElementMissing(step string, candidates []string) *BotError {
	return New(ErrCodeElementMissing, fmt.Sprintf("could not find %s", step)).
		WithDetail("step", step).
		WithDetail("candidates", strings.Join(candidates, ", "))
}

// UploadFailure creates an error for a recording that finished but could not be uploaded.
func UploadFailure(reason string, err error) *BotError {
	if err != nil {
		return Wrap(err, ErrCodeUpload, fmt.Sprintf("recording upload failed: %s", reason))
	}
	return New(ErrCodeUpload, fmt.Sprintf("recording upload failed: %s", reason))
}

// BrowserLaunchTimeout creates an error for a browser that did not start in time.
func BrowserLaunchTimeout(timeout string) *BotError {
	return New(ErrCodeBrowserLaunch, fmt.Sprintf("browser launch timed out after %s", timeout)).
		WithDetail("timeout", timeout)
}

// IsRetryable reports whether a session error may be retried by the caller.
func IsRetryable(err error) bool {
	botErr, ok := As(err)
	if !ok {
		return false
	}
	retryable, _ := botErr.Detail("retryable").(bool)
	return retryable
}

// BodyText returns the captured page text attached to an error, if any.
func BodyText(err error) string {
	botErr, ok := As(err)
	if !ok {
		return ""
	}
	text, _ := botErr.Detail("bodyText").(string)
	return text
}

// PageStatus returns the page state attached to an unsupported session error.
func PageStatus(err error) string {
	botErr, ok := As(err)
	if !ok {
		return ""
	}
	status, _ := botErr.Detail("pageStatus").(string)
	return status
}
