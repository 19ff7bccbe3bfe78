// Package stream implements the line-oriented event stream exchanged between
// the proxy and its clients: one "data: <json>" record per line, closed by a
// {"done":true} record.
package stream

import (
	"encoding/json"
	"fmt"
)

// DataPrefix marks a record line.
const DataPrefix = "data: "

// Event types.
const (
	TypeContent = "content"
	TypeWarning = "warning"
	TypeError   = "error"
	TypeDone    = "done"
	TypeEmpty   = "empty"
)

// Event is one record of the stream. Exactly one field is set on events the
// proxy produces.
type Event struct {
	Content string `json:"content,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// Type names the event. Error wins over the other fields, then done.
func (e Event) Type() string {
	switch {
	case e.Error != "":
		return TypeError
	case e.Done:
		return TypeDone
	case e.Content != "":
		return TypeContent
	case e.Warning != "":
		return TypeWarning
	default:
		return TypeEmpty
	}
}

// MarshalLine encodes e as a complete record line including the newline.
func (e Event) MarshalLine() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream event: %w", err)
	}
	line := make([]byte, 0, len(DataPrefix)+len(payload)+1)
	line = append(line, DataPrefix...)
	line = append(line, payload...)
	return append(line, '\n'), nil
}

// StreamError is an error event received from the other side.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}
