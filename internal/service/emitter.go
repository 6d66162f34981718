package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"go.uber.org/zap"
)

// SetSSEHeaders configures response headers for a server-sent event stream
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// StreamEmitter is the only writer of a chat stream. Each event is sent as
// "data: <json>\n\n". The emitter guarantees siteId comes first, at most one
// terminal event (optionally followed by done after an error), and nothing
// after close. A failed write marks the stream closed.
type StreamEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	logger *zap.Logger

	started   bool
	closed    bool
	doneSent  bool
	errorSent bool

	onFirstWrite func()
	wrote        bool
}

// NewStreamEmitter creates an emitter over w; flush may be nil
func NewStreamEmitter(w io.Writer, flush func(), logger *zap.Logger) *StreamEmitter {
	if flush == nil {
		flush = func() {}
	}
	return &StreamEmitter{w: w, flush: flush, logger: logger}
}

// OnFirstWrite registers fn to run after the first bytes reach the client
func (e *StreamEmitter) OnFirstWrite(fn func()) {
	e.mu.Lock()
	e.onFirstWrite = fn
	e.mu.Unlock()
}

// Open starts the stream with the siteId event
func (e *StreamEmitter) Open(siteID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return false
	}
	e.started = true
	return e.write(domain.StreamEvent{SiteID: siteID})
}

// Emit sends a non-terminal event and reports whether it was written
func (e *StreamEmitter) Emit(ev domain.StreamEvent) bool {
	if ev.IsTerminal() {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.closed || e.doneSent || e.errorSent {
		return false
	}
	return e.write(ev)
}

// EmitSourceDocs sends the retrieved documents. Documents that fail to
// encode are replaced by an empty list so the stream can continue.
func (e *StreamEmitter) EmitSourceDocs(docs []domain.Document) bool {
	if docs == nil {
		docs = []domain.Document{}
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		e.logger.Warn("failed to encode source documents, sending empty list", zap.Error(err))
		raw = json.RawMessage(`[]`)
	}
	return e.Emit(domain.StreamEvent{SourceDocs: raw})
}

// Done sends the done event once. Timing is attached only when no error
// event preceded it.
func (e *StreamEmitter) Done(timing *domain.TimingMetrics) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.closed || e.doneSent {
		return false
	}
	e.doneSent = true

	ev := domain.StreamEvent{Done: true}
	if !e.errorSent {
		ev.Timing = timing
	}
	return e.write(ev)
}

// Fail sends the terminal error event once, never after done
func (e *StreamEmitter) Fail(c Classification, timing *domain.TimingMetrics) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.closed || e.doneSent || e.errorSent {
		return false
	}
	e.errorSent = true

	return e.write(domain.StreamEvent{
		Error:      c.Message,
		Type:       string(c.Kind),
		IsBuilding: c.IsBuilding,
		Timing:     timing,
	})
}

// Close marks the stream closed; later calls are no-ops
func (e *StreamEmitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Closed reports whether the stream is closed or the client went away
func (e *StreamEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Terminated reports whether a terminal event was sent
func (e *StreamEmitter) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doneSent || e.errorSent
}

// StartKeepAlive writes an SSE comment every interval until the returned
// stop function is called or the stream closes.
func (e *StreamEmitter) StartKeepAlive(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if !e.keepAlive() {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(quit) }) }
}

func (e *StreamEmitter) keepAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		e.closed = true
		return false
	}
	e.flush()
	return true
}

// write must be called with mu held
func (e *StreamEmitter) write(ev domain.StreamEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("failed to encode stream event", zap.String("kind", ev.Kind()), zap.Error(err))
		return false
	}

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.logger.Debug("stream write failed, closing", zap.String("kind", ev.Kind()), zap.Error(err))
		e.closed = true
		return false
	}
	e.flush()

	if !e.wrote {
		e.wrote = true
		if e.onFirstWrite != nil {
			e.onFirstWrite()
		}
	}
	return true
}
