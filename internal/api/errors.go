package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated is returned when no signed-in user or valid token
	// is available.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthExpired is returned when the token could not be renewed after
	// the backend rejected it.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrBackendUnreachable matches transport failures through errors.Is.
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// UserMessage returns the sentence shown to the user for err.
func UserMessage(err error) string {
	var backendErr *BackendError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated. Please sign in first."
	case errors.Is(err, ErrAuthExpired):
		return "Authentication expired. Please sign in again."
	case errors.As(err, &backendErr):
		return backendErr.Message
	}
	return err.Error()
}

// UnreachableError is a transport failure talking to the backend.
type UnreachableError struct {
	BaseURL string
	Err     error
}

func (e *UnreachableError) Error() string {
	return "Unable to connect to backend server. Please check if the server is running at " + e.BaseURL
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBackendUnreachable) hold.
func (e *UnreachableError) Is(target error) bool { return target == ErrBackendUnreachable }

// BackendError is a non-2xx answer from the backend. Message is the text
// shown to the user; Detail is what the backend reported.
type BackendError struct {
	Status  int
	Message string
	Detail  string
}

func (e *BackendError) Error() string { return e.Message }

const maxDetailChars = 100

// newBackendError maps a failed response onto a user-facing error. Detail is
// the JSON "error" field, or the start of the raw body.
func newBackendError(status int, body []byte) *BackendError {
	detail := ""
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		detail = payload.Error
	} else {
		detail = firstChars(string(body), maxDetailChars)
	}
	if detail == "" {
		detail = http.StatusText(status)
	}

	var msg string
	switch status {
	case http.StatusUnauthorized:
		msg = "Authentication failed. Please sign in again."
	case http.StatusForbidden:
		msg = "Access denied. Only VU emails are allowed."
	case http.StatusBadRequest:
		msg = "Invalid request: " + detail
	case http.StatusTooManyRequests:
		msg = "Too many requests. Please wait a moment and try again."
	case http.StatusInternalServerError:
		msg = "Server error: " + detail
	case http.StatusServiceUnavailable:
		msg = "Backend server is temporarily unavailable. Please try again later."
	default:
		msg = fmt.Sprintf("Backend error (%d): %s", status, detail)
	}
	return &BackendError{Status: status, Message: msg, Detail: detail}
}

func firstChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
