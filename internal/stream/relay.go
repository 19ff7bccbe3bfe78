package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/teemow/edulab/internal/logging"
)

// Relay consumes an event stream produced by the proxy and rebuilds the
// generated text.
type Relay struct {
	Logger logging.Logger
}

// NewRelay returns a Relay logging through logger. A nil logger discards.
func NewRelay(logger logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{Logger: logger}
}

// Consume reads body until a done record or end of input and returns the
// concatenated content. onChunk, when set, sees every content fragment in
// arrival order. An error record aborts with a *StreamError and the partial
// text is discarded. Malformed records are logged and skipped.
func (r *Relay) Consume(ctx context.Context, body io.Reader, onChunk func(string)) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var content strings.Builder
	scanner := NewScanner(body)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var ev Event
		if err := json.Unmarshal(scanner.Payload(), &ev); err != nil {
			logger.Warn("skipping malformed stream record",
				logging.Err(err),
				"record", truncate(string(scanner.Payload()), 100))
			continue
		}

		if ev.Error != "" {
			return "", &StreamError{Message: ev.Error}
		}
		if ev.Content != "" {
			content.WriteString(ev.Content)
			if onChunk != nil {
				onChunk(ev.Content)
			}
		}
		if ev.Warning != "" {
			logger.Warn("backend warning", "warning", ev.Warning)
		}
		if ev.Done {
			logger.Debug("stream marked as done", "length", content.Len())
			return content.String(), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	logger.Debug("stream closed by server", "length", content.Len())
	return content.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
