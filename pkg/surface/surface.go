// Package surface is the browser capability the session drives.
package surface

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Locate when no candidate became visible.
var ErrNotFound = errors.New("no candidate element is visible")

// Surface is one controlled page. Selectors are CSS, or XPath when they start with "//".
type Surface interface {
	Navigate(ctx context.Context, url string) error
	// Locate returns the first candidate that becomes visible within perCandidate.
	Locate(ctx context.Context, candidates []string, perCandidate time.Duration) (string, error)
	Click(ctx context.Context, selector string) error
	// Fill replaces the value of an input.
	Fill(ctx context.Context, selector, value string) error
	CurrentURL(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression, awaiting promises, and decodes the result into out.
	Evaluate(ctx context.Context, expr string, out interface{}) error
	// Expose registers a page function that forwards its single string argument to handler.
	Expose(ctx context.Context, name string, handler func(payload string)) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher opens surfaces.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Surface, error)
}

// LaunchOptions configures a new browser.
type LaunchOptions struct {
	ExecutablePath   string
	Headless         bool
	UserAgent        string
	LaunchTimeout    time.Duration
	FakeMediaDevices bool
	Width            int
	Height           int
	CorrelationID    string
}

// Default window size.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)
