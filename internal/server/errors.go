package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIError is the JSON error body every /api route answers with.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message,omitempty"`
	ResetTime string `json:"resetTime,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// NewAPIError creates an APIError.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// Error constructors for every failure the proxy reports.
var (
	ErrInvalidExtension = func() *APIError {
		return NewAPIError(http.StatusForbidden, "Invalid extension ID", "This request is not from an authorized extension")
	}

	ErrNoToken = func() *APIError {
		return NewAPIError(http.StatusUnauthorized, "No authorization token", "Please sign in to use this service")
	}

	ErrInvalidToken = func() *APIError {
		return NewAPIError(http.StatusUnauthorized, "Invalid token", "Authentication failed. Please sign in again.")
	}

	ErrEmailMismatch = func() *APIError {
		return NewAPIError(http.StatusForbidden, "Email mismatch", "Token email does not match provided email")
	}

	ErrDomainDenied = func() *APIError {
		return NewAPIError(http.StatusForbidden, "Access denied", "Only VU Amsterdam email addresses are allowed")
	}

	ErrUserRateLimited = func(limit int, resetAt time.Time) *APIError {
		e := NewAPIError(http.StatusTooManyRequests, "Rate limit exceeded",
			fmt.Sprintf("You have exceeded the maximum number of requests per hour (%d). Please try again later.", limit))
		e.ResetTime = resetAt.UTC().Format(isoMillis)
		return e
	}

	ErrIPRateLimited = func() *APIError {
		return NewAPIError(http.StatusTooManyRequests, "Too many requests", "Too many requests from this IP, please try again later")
	}

	ErrDailyCostLimit = func() *APIError {
		return NewAPIError(http.StatusTooManyRequests, "Daily cost limit reached", "The service has reached its daily cost limit. Please try again tomorrow.")
	}

	ErrPromptRequired = func() *APIError {
		return NewAPIError(http.StatusBadRequest, "Prompt is required", "")
	}

	ErrInvalidBody = func(detail string) *APIError {
		return NewAPIError(http.StatusBadRequest, "Invalid request body", detail)
	}

	ErrPayloadTooLarge = func(limit int64) *APIError {
		return NewAPIError(http.StatusRequestEntityTooLarge, "Payload too large", fmt.Sprintf("Request body must not exceed %d bytes", limit))
	}

	ErrAPIKeyMissing = func() *APIError {
		return NewAPIError(http.StatusInternalServerError, "API key not configured", "Gemini API key is not set on the server")
	}

	ErrGenerationFailed = func() *APIError {
		return NewAPIError(http.StatusInternalServerError, "AI generation failed", "Failed to generate content")
	}

	ErrStoreUnavailable = func() *APIError {
		return NewAPIError(http.StatusServiceUnavailable, "Service unavailable", "Request counters are temporarily unavailable")
	}

	ErrInternal = func() *APIError {
		return NewAPIError(http.StatusInternalServerError, "Internal server error", "")
	}

	ErrNotFound = func() *APIError {
		return NewAPIError(http.StatusNotFound, "Not found", "")
	}

	ErrMethodNotAllowed = func() *APIError {
		return NewAPIError(http.StatusMethodNotAllowed, "Method not allowed", "")
	}
)

// isoMillis matches the timestamps clients already parse.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, e *APIError) {
	writeJSON(w, e.Status, e)
}
