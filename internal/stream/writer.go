package stream

import (
	"fmt"
	"net/http"
	"sync"
)

// Writer emits events on an HTTP response, flushing after every record.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	onEvent func(Event)
}

// NewWriter wraps w. onEvent, when set, is called for every event written.
func NewWriter(w http.ResponseWriter, onEvent func(Event)) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher, onEvent: onEvent}
}

// Start writes the stream headers and the 200 status. Further calls are
// no-ops.
func (sw *Writer) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.startLocked()
}

func (sw *Writer) startLocked() {
	if sw.started {
		return
	}
	sw.started = true
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
}

// Started reports whether the status line has been written.
func (sw *Writer) Started() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.started
}

// Send writes ev as one record and flushes it to the client.
func (sw *Writer) Send(ev Event) error {
	line, err := ev.MarshalLine()
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.startLocked()

	if _, err := sw.w.Write(line); err != nil {
		return fmt.Errorf("failed to write stream record: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	if sw.onEvent != nil {
		sw.onEvent(ev)
	}
	return nil
}

// Content sends a content record.
func (sw *Writer) Content(text string) error { return sw.Send(Event{Content: text}) }

// Warning sends a warning record.
func (sw *Writer) Warning(msg string) error { return sw.Send(Event{Warning: msg}) }

// Fail sends an error record.
func (sw *Writer) Fail(msg string) error { return sw.Send(Event{Error: msg}) }

// Done sends the closing record.
func (sw *Writer) Done() error { return sw.Send(Event{Done: true}) }
