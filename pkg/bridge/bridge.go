// Package bridge receives recorder output from the page and appends it to the session artifact.
//
// Every message carries the session secret. Messages with any other secret are
// dropped without a trace; they come from a stale page or another session.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Binding names exposed to the page.
const (
	BindingSubmitChunk = "meetbotSubmitChunk"
	BindingSessionEnd  = "meetbotSessionEnd"
)

// Message kinds carried in a binding payload.
const (
	KindChunk = "chunk"
	KindEnd   = "end"
)

const queueSize = 256

// Message is the JSON payload the page sends through a binding.
type Message struct {
	Kind   string `json:"kind"`
	Secret string `json:"secret"`
	Data   string `json:"data,omitempty"`
}

// ChunkWriter appends chunks to the session artifact.
type ChunkWriter interface {
	SaveChunk(ctx context.Context, data []byte) error
}

// Exposer registers a host function callable from the page.
type Exposer interface {
	Expose(ctx context.Context, name string, handler func(payload string)) error
}

// Bridge serializes chunk delivery for one session.
type Bridge struct {
	secret string
	writer ChunkWriter
	logger *logrus.Entry

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan Message
	done    chan struct{}

	endOnce sync.Once
	ended   chan struct{}

	accepted int64
	dropped  int64
	failed   int64
}

// New creates a bridge accepting messages tagged with secret.
func New(secret string, writer ChunkWriter, logger *logrus.Entry) *Bridge {
	return &Bridge{
		secret: secret,
		writer: writer,
		logger: logger,
		queue:  make(chan Message, queueSize),
		done:   make(chan struct{}),
		ended:  make(chan struct{}),
	}
}

// Bind exposes both bindings on the page.
func (b *Bridge) Bind(ctx context.Context, page Exposer) error {
	if err := page.Expose(ctx, BindingSubmitChunk, b.Deliver); err != nil {
		return err
	}
	return page.Expose(ctx, BindingSessionEnd, b.Deliver)
}

// Start runs the delivery goroutine. Chunks are written in the order they arrived.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go func() {
		defer close(b.done)
		for msg := range b.queue {
			b.handle(ctx, msg)
		}
	}()
}

// Deliver decodes a binding payload and enqueues it.
func (b *Bridge) Deliver(payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.WithError(err).Warn("Malformed bridge payload")
		return
	}
	switch msg.Kind {
	case KindChunk:
		b.SubmitChunk(msg.Secret, msg.Data)
	case KindEnd:
		b.SignalSessionEnd(msg.Secret)
	default:
		b.logger.WithField("kind", msg.Kind).Warn("Unknown bridge message")
	}
}

// SubmitChunk enqueues a base64 chunk.
func (b *Bridge) SubmitChunk(secret, data string) {
	b.enqueue(Message{Kind: KindChunk, Secret: secret, Data: data})
}

// SignalSessionEnd enqueues the end signal behind any chunks already received.
func (b *Bridge) SignalSessionEnd(secret string) {
	b.enqueue(Message{Kind: KindEnd, Secret: secret})
}

func (b *Bridge) enqueue(msg Message) {
	if msg.Secret != b.secret {
		atomic.AddInt64(&b.dropped, 1)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.WithField("kind", msg.Kind).Debug("Bridge closed, dropping message")
		return
	}
	b.queue <- msg
}

func (b *Bridge) handle(ctx context.Context, msg Message) {
	if msg.Kind == KindEnd {
		b.endOnce.Do(func() {
			b.logger.Info("Page signaled session end")
			close(b.ended)
		})
		return
	}

	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		atomic.AddInt64(&b.failed, 1)
		b.logger.WithError(err).Warn("Chunk is not valid base64, dropping")
		return
	}
	if len(data) == 0 {
		b.logger.Warn("Received empty chunk, dropping")
		return
	}
	if err := b.writer.SaveChunk(ctx, data); err != nil {
		atomic.AddInt64(&b.failed, 1)
		b.logger.WithError(err).Error("Failed to save chunk")
		return
	}
	atomic.AddInt64(&b.accepted, 1)
}

// Ended is closed on the first valid end signal.
func (b *Bridge) Ended() <-chan struct{} {
	return b.ended
}

// Close stops accepting messages and waits until every queued chunk is written.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.mu.Unlock()
	if !started {
		close(b.done)
		return
	}
	<-b.done
}

// Stats reports accepted chunks, foreign messages dropped and chunks that failed to save.
func (b *Bridge) Stats() (accepted, foreign, failed int64) {
	return atomic.LoadInt64(&b.accepted), atomic.LoadInt64(&b.dropped), atomic.LoadInt64(&b.failed)
}
