// Package testutil provides fakes and helpers shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/meetbot/pkg/surface"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// QuietLogger returns a logger that drops everything.
func QuietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// BufferLogger returns a logger writing plain text into the returned buffer.
func BufferLogger() (*logrus.Entry, *SafeBuffer) {
	buf := &SafeBuffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return logrus.NewEntry(l), buf
}

// SafeBuffer is a bytes.Buffer safe for concurrent writers.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// RandomString generates a random hex string of the specified length.
func RandomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)[:length]
}

// WriteFile writes content under dir and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Isolate points every meetbot directory at a fresh temp dir.
func Isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("MEETBOT_HOME", home)
	return home
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, time.Millisecond)
}

// MemoryWriter collects chunks in memory.
type MemoryWriter struct {
	mu     sync.Mutex
	data   bytes.Buffer
	chunks int
}

// SaveChunk appends data.
func (w *MemoryWriter) SaveChunk(_ context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks++
	w.data.Write(data)
	return nil
}

// Content returns everything written so far.
func (w *MemoryWriter) Content() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data.String()
}

// Chunks returns the number of chunks written.
func (w *MemoryWriter) Chunks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunks
}

// FakeSurface is a scriptable surface.Surface.
type FakeSurface struct {
	mu sync.Mutex

	URL string
	// Visible lists selectors Locate can find.
	Visible map[string]bool
	// EvalFunc answers Evaluate; its result is JSON round-tripped into out.
	EvalFunc func(expr string) (interface{}, error)

	NavigateErr   error
	ClickErr      map[string]error
	ScreenshotPNG []byte

	Navigations []string
	Clicks      []string
	Fills       map[string]string
	Evaluations []string
	Screenshots int
	CloseCalls  int

	bindings map[string]func(string)
}

var _ surface.Surface = (*FakeSurface)(nil)

// NewFakeSurface returns a fake on url with the given selectors visible.
func NewFakeSurface(url string, visible ...string) *FakeSurface {
	f := &FakeSurface{
		URL:      url,
		Visible:  map[string]bool{},
		Fills:    map[string]string{},
		ClickErr: map[string]error{},
		bindings: map[string]func(string){},
	}
	for _, v := range visible {
		f.Visible[v] = true
	}
	return f
}

func (f *FakeSurface) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Navigations = append(f.Navigations, url)
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.URL = url
	return nil
}

func (f *FakeSurface) Locate(ctx context.Context, candidates []string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range candidates {
		if f.Visible[c] {
			return c, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", surface.ErrNotFound
}

func (f *FakeSurface) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clicks = append(f.Clicks, selector)
	return f.ClickErr[selector]
}

func (f *FakeSurface) Fill(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fills[selector] = value
	return nil
}

func (f *FakeSurface) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, nil
}

// SetURL changes the page location.
func (f *FakeSurface) SetURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.URL = url
}

func (f *FakeSurface) Evaluate(_ context.Context, expr string, out interface{}) error {
	f.mu.Lock()
	f.Evaluations = append(f.Evaluations, expr)
	eval := f.EvalFunc
	f.mu.Unlock()

	if eval == nil {
		return nil
	}
	res, err := eval(expr)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *FakeSurface) Expose(_ context.Context, name string, handler func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = handler
	return nil
}

// Call invokes a binding the way page script would. It reports whether the binding exists.
func (f *FakeSurface) Call(name, payload string) bool {
	f.mu.Lock()
	handler, ok := f.bindings[name]
	f.mu.Unlock()
	if ok {
		handler(payload)
	}
	return ok
}

func (f *FakeSurface) Screenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Screenshots++
	if f.ScreenshotPNG == nil {
		return []byte("\x89PNG"), nil
	}
	return f.ScreenshotPNG, nil
}

func (f *FakeSurface) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCalls++
	return nil
}

// Snapshot returns copies of the recorded clicks and navigations and the close count.
func (f *FakeSurface) Snapshot() (clicks, navigations []string, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Clicks...), append([]string(nil), f.Navigations...), f.CloseCalls
}

// FillValue returns the value filled into selector.
func (f *FakeSurface) FillValue(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Fills[selector]
}

// ScreenshotCount returns how many screenshots were taken.
func (f *FakeSurface) ScreenshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Screenshots
}
