package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "6f1c2a9e-5d7b-4c8e-9a41-2b3d4e5f6a7b"

type memoryWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	n    int
	fail bool
}

func (w *memoryWriter) SaveChunk(_ context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("disk full")
	}
	w.n++
	w.buf.Write(data)
	return nil
}

func (w *memoryWriter) content() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func payload(t *testing.T, kind, tag, data string) string {
	raw, err := json.Marshal(Message{Kind: kind, Secret: tag, Data: data})
	require.NoError(t, err)
	return string(raw)
}

func TestBridgePreservesArrivalOrder(t *testing.T) {
	w := &memoryWriter{}
	b := New(secret, w, quietLogger())
	b.Start(context.Background())

	b.SubmitChunk(secret, b64("A"))
	b.SubmitChunk(secret, b64("B"))
	b.Close()

	assert.Equal(t, "AB", w.content())
	accepted, foreign, failed := b.Stats()
	assert.Equal(t, int64(2), accepted)
	assert.Zero(t, foreign)
	assert.Zero(t, failed)
}

func TestBridgeDropsForeignSecret(t *testing.T) {
	w := &memoryWriter{}
	b := New(secret, w, quietLogger())
	b.Start(context.Background())

	b.SubmitChunk("stale-session", b64("X"))
	b.SubmitChunk(secret, b64("A"))
	b.SignalSessionEnd("stale-session")
	b.Close()

	assert.Equal(t, "A", w.content())
	_, foreign, _ := b.Stats()
	assert.Equal(t, int64(2), foreign)

	select {
	case <-b.Ended():
		t.Fatal("a foreign end signal must not end the session")
	default:
	}
}

func TestBridgeDropsEmptyChunk(t *testing.T) {
	w := &memoryWriter{}
	b := New(secret, w, quietLogger())
	b.Start(context.Background())

	b.SubmitChunk(secret, "")
	b.SubmitChunk(secret, b64("A"))
	b.Close()

	assert.Equal(t, "A", w.content())
	assert.Equal(t, 1, w.n)
}

func TestBridgeDeliverPayloads(t *testing.T) {
	w := &memoryWriter{}
	b := New(secret, w, quietLogger())
	b.Start(context.Background())

	b.Deliver(payload(t, KindChunk, secret, b64("A")))
	b.Deliver("{not json")
	b.Deliver(payload(t, "mystery", secret, ""))
	b.Deliver(payload(t, KindChunk, secret, b64("B")))
	b.Deliver(payload(t, KindEnd, secret, ""))

	select {
	case <-b.Ended():
	case <-time.After(time.Second):
		t.Fatal("end signal was not delivered")
	}
	// Chunks queued before the end signal are written before Ended closes.
	assert.Equal(t, "AB", w.content())

	b.Deliver(payload(t, KindEnd, secret, ""))
	b.Close()
}

func TestBridgeDropsAfterClose(t *testing.T) {
	w := &memoryWriter{}
	b := New(secret, w, quietLogger())
	b.Start(context.Background())
	b.Close()

	b.SubmitChunk(secret, b64("late"))
	b.Close()
	assert.Empty(t, w.content())
}

func TestBridgeCountsWriteFailures(t *testing.T) {
	w := &memoryWriter{fail: true}
	b := New(secret, w, quietLogger())
	b.Start(context.Background())

	b.SubmitChunk(secret, b64("A"))
	b.SubmitChunk(secret, "***")
	b.Close()

	accepted, _, failed := b.Stats()
	assert.Zero(t, accepted)
	assert.Equal(t, int64(2), failed)
}

type fakeExposer struct {
	handlers map[string]func(string)
}

func (e *fakeExposer) Expose(_ context.Context, name string, handler func(string)) error {
	if e.handlers == nil {
		e.handlers = map[string]func(string){}
	}
	e.handlers[name] = handler
	return nil
}

func TestBridgeBind(t *testing.T) {
	w := &memoryWriter{}
	b := New(secret, w, quietLogger())
	page := &fakeExposer{}
	require.NoError(t, b.Bind(context.Background(), page))
	require.Contains(t, page.handlers, BindingSubmitChunk)
	require.Contains(t, page.handlers, BindingSessionEnd)

	b.Start(context.Background())
	page.handlers[BindingSubmitChunk](payload(t, KindChunk, secret, b64("A")))
	page.handlers[BindingSessionEnd](payload(t, KindEnd, secret, ""))
	<-b.Ended()
	b.Close()

	assert.Equal(t, "A", w.content())
}

func TestBridgeCloseWithoutStart(t *testing.T) {
	b := New(secret, &memoryWriter{}, quietLogger())
	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked without Start")
	}
}
