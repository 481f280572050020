package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/meetbot/errors"
)

// ErrorHandler provides operator-facing error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     os.Stderr,
	}
}

// Handle prints a message for err based on its code and returns err.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	botErr, _ := errors.As(err)

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "❌ Configuration not found at %v\n", detail(botErr, "path"))
		fmt.Fprintf(h.Out, "Omit --config to run with defaults, or run 'meetbot config show' to see them.\n")

	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigValidation:
		fmt.Fprintf(h.Out, "❌ %s\n", botErr.Message)
		if botErr.Cause != nil {
			fmt.Fprintf(h.Out, "   %v\n", botErr.Cause)
		}
		fmt.Fprintf(h.Out, "Run 'meetbot config validate' for details.\n")

	case errors.ErrCodeAlreadyRunning:
		fmt.Fprintf(h.Out, "❌ A session for this bot is already running (PID %v)\n", detail(botErr, "pid"))
		fmt.Fprintf(h.Out, "Stop it with 'meetbot stop --bot-id <id>'.\n")

	case errors.ErrCodeAdmission:
		fmt.Fprintf(h.Out, "❌ The bot was not admitted to the meeting (%v)\n", detail(botErr, "reason"))

	case errors.ErrCodeUnsupported:
		fmt.Fprintf(h.Out, "❌ Unsupported meeting: %s\n", botErr.Message)

	case errors.ErrCodeBrowserLaunch:
		fmt.Fprintf(h.Out, "❌ The browser did not start: %s\n", botErr.Message)
		fmt.Fprintf(h.Out, "Set browser.executable_path or MEETBOT_CHROME_PATH to a Chrome binary.\n")

	case errors.ErrCodeUpload:
		fmt.Fprintf(h.Out, "❌ The recording was not uploaded: %s\n", botErr.Message)

	default:
		fmt.Fprintf(h.Out, "❌ Error: %v\n", err)
	}

	if h.Verbose && botErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", botErr.ToJSON())
	}
	return err
}

func detail(e *errors.BotError, key string) interface{} {
	if e == nil {
		return "unknown"
	}
	if v := e.Detail(key); v != nil {
		return v
	}
	return "unknown"
}
