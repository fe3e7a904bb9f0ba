// Package apierr defines the typed API error taxonomy and the single
// JSON envelope every handler in this module renders errors through.
package apierr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error is a classified API error with an HTTP status and an optional
// retry hint.
type Error struct {
	Status     int
	Code       string
	Message    string
	RetryAfter int // seconds, 0 means absent
}

func (e *Error) Error() string { return e.Message }

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, "validation_error", message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "unauthorized", message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "forbidden", message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "not_found", message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, "conflict", message)
}

// RateLimited is returned once a per-minute or per-hour ceiling is hit.
func RateLimited(message string, retryAfterSeconds int) *Error {
	return &Error{
		Status:     http.StatusTooManyRequests,
		Code:       "rate_limited",
		Message:    message,
		RetryAfter: retryAfterSeconds,
	}
}

// QueueFull is returned when a project's queue depth exceeds its
// backpressure ceiling.
func QueueFull(message string, retryAfterSeconds int) *Error {
	return &Error{
		Status:     http.StatusServiceUnavailable,
		Code:       "queue_full",
		Message:    message,
		RetryAfter: retryAfterSeconds,
	}
}

// CircuitOpen is returned when the Auth collaborator's breaker is open
// and no cached credential record (primary or emergency) is available.
func CircuitOpen(message string) *Error {
	return &Error{
		Status:     http.StatusServiceUnavailable,
		Code:       "circuit_open",
		Message:    message,
		RetryAfter: 5,
	}
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, "internal_error", message)
}

type envelope struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// WriteJSON renders err as the module's standard error envelope. If err
// is not an *Error it is rendered as a 500.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = Internal(err.Error())
	}
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(envelope{Detail: apiErr.Message, Code: apiErr.Code})
}

// WriteData renders a successful JSON payload using the same
// content-type/encoding convention as WriteJSON.
func WriteData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
