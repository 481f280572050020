package surface

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/util/sanitize"
	"github.com/sirupsen/logrus"
)

// ChromeLauncher starts Chrome through the DevTools protocol.
type ChromeLauncher struct {
	// Console receives page console messages. Nil discards them.
	Console *logrus.Entry
	Logger  *logrus.Entry
}

// Chrome is a Surface backed by one Chrome tab.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *logrus.Entry

	mu       sync.RWMutex
	bindings map[string]func(string)
	closed   bool
}

func allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	width, height := opts.Width, opts.Height
	if width == 0 || height == 0 {
		width, height = DefaultWidth, DefaultHeight
	}

	options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	options = append(options,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("mute-audio", false),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("enable-usermedia-screen-capturing", true),
		chromedp.Flag("allow-http-screen-capture", true),
		chromedp.Flag("auto-accept-this-tab-capture", true),
		chromedp.Flag("enable-features", "MediaRecorder"),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("use-gl", "angle"),
		chromedp.Flag("use-angle", "swiftshader"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(width, height),
	)
	if opts.UserAgent != "" {
		options = append(options, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecutablePath != "" {
		options = append(options, chromedp.ExecPath(opts.ExecutablePath))
	}
	if opts.FakeMediaDevices {
		options = append(options,
			chromedp.Flag("use-fake-ui-for-media-stream", true),
			chromedp.Flag("use-fake-device-for-media-stream", true),
		)
	}
	return options
}

// Launch starts a browser and opens a blank tab.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Surface, error) {
	logger := l.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("correlation", opts.CorrelationID)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Warnf),
	)

	c := &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
		bindings:    make(map[string]func(string)),
	}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventBindingCalled:
			c.dispatch(ev.Name, ev.Payload)
		case *runtime.EventConsoleAPICalled:
			if l.Console != nil {
				forwardConsole(l.Console, ev)
			}
		case *runtime.EventExceptionThrown:
			if l.Console != nil && ev.ExceptionDetails != nil {
				l.Console.WithField("url", ev.ExceptionDetails.URL).Error(ev.ExceptionDetails.Text)
			}
		}
	})

	timeout := opts.LaunchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	// The first Run allocates the browser; its context must outlive the launch.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx, runtime.Enable())
	}()

	select {
	case err := <-started:
		if err != nil {
			c.Close()
			return nil, errors.Wrap(err, errors.ErrCodeBrowserLaunch, "failed to launch browser")
		}
	case <-time.After(timeout):
		c.Close()
		return nil, errors.BrowserLaunchTimeout(timeout.String())
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	logger.Info("Browser launched")
	return c, nil
}

func forwardConsole(log *logrus.Entry, ev *runtime.EventConsoleAPICalled) {
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	msg := sanitize.ForLogField(strings.Join(parts, " "), 2000)

	switch ev.Type {
	case runtime.APITypeError, runtime.APITypeAssert:
		log.Error(msg)
	case runtime.APITypeWarning:
		log.Warn(msg)
	case runtime.APITypeDebug:
		log.Debug(msg)
	default:
		log.Info(msg)
	}
}

func (c *Chrome) dispatch(name, payload string) {
	c.mu.RLock()
	handler, ok := c.bindings[name]
	c.mu.RUnlock()
	if !ok {
		c.logger.WithField("binding", name).Debug("Call to unknown binding")
		return
	}
	handler(payload)
}

// run executes actions on the tab, bounded by ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("surface is closed")
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the document to be ready.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

// Locate tries each candidate in order.
func (c *Chrome) Locate(ctx context.Context, candidates []string, perCandidate time.Duration) (string, error) {
	for _, sel := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		candCtx, cancel := context.WithTimeout(ctx, perCandidate)
		err := c.run(candCtx, chromedp.WaitVisible(sel, chromedp.BySearch))
		cancel()
		if err == nil {
			return sel, nil
		}
		c.logger.WithField("selector", sel).Debug("Candidate not visible")
	}
	return "", ErrNotFound
}

// Click clicks the first visible match of selector.
func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.BySearch, chromedp.NodeVisible))
}

// Fill clears the input and types value.
func (c *Chrome) Fill(ctx context.Context, selector, value string) error {
	return c.run(ctx,
		chromedp.SetValue(selector, "", chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	)
}

// CurrentURL returns the tab's location.
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := c.run(ctx, chromedp.Location(&url))
	return url, err
}

// Evaluate runs expr as a user gesture, awaiting a returned promise.
// getDisplayMedia in the recorder script needs the gesture.
func (c *Chrome) Evaluate(ctx context.Context, expr string, out interface{}) error {
	if out == nil {
		var discard interface{}
		out = &discard
	}
	return c.run(ctx, chromedp.Evaluate(expr, out, evaluateParams))
}

func evaluateParams(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true).WithUserGesture(true)
}

// Expose installs a binding on the page. The page calls window[name](payload).
func (c *Chrome) Expose(ctx context.Context, name string, handler func(payload string)) error {
	c.mu.Lock()
	c.bindings[name] = handler
	c.mu.Unlock()
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return runtime.AddBinding(name).Do(ctx)
	}))
}

// Screenshot captures the full page as PNG.
func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := chromedp.Cancel(c.ctx)
	c.cancelTab()
	c.cancelAlloc()
	if err != nil && err != context.Canceled {
		c.logger.WithError(err).Debug("Browser did not close cleanly")
	}
	c.logger.Info("Browser closed")
	return nil
}
