package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Session errors
	ErrCodeAdmission   ErrorCode = "ADMISSION_FAILURE"
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_SESSION"
	ErrCodeCapture     ErrorCode = "CAPTURE_FAILURE"
	ErrCodeUpload      ErrorCode = "UPLOAD_FAILURE"

	// Surface errors
	ErrCodeBrowserLaunch  ErrorCode = "BROWSER_LAUNCH"
	ErrCodeElementMissing ErrorCode = "ELEMENT_MISSING"

	// General errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
)

// BotError represents a structured error with context
type BotError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *BotError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *BotError) WithDetail(key string, value interface{}) *BotError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, or nil.
func (e *BotError) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// ToJSON converts the error to JSON
func (e *BotError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new BotError
func New(code ErrorCode, message string) *BotError {
	return &BotError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a BotError
func Wrap(err error, code ErrorCode, message string) *BotError {
	return &BotError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// As finds the first BotError in err's chain.
func As(err error) (*BotError, bool) {
	for err != nil {
		if botErr, ok := err.(*BotError); ok {
			return botErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// Is checks if an error is a specific BotError code
func Is(err error, code ErrorCode) bool {
	botErr, ok := As(err)
	if !ok {
		return false
	}
	if botErr.Code == code {
		return true
	}
	// A wrapped cause may carry the code we're after.
	return Is(botErr.Cause, code)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	botErr, ok := As(err)
	if !ok {
		return ""
	}
	return botErr.Code
}
