package api

import (
	"errors"
	"fmt"
	"net/http"
)

// genericMessage is shown when the backend response carries no usable
// message field.
const genericMessage = "request failed"

// Error is a backend API error: the HTTP status plus the backend's message
// field, falling back to a generic message.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = genericMessage
	}
	return fmt.Sprintf("api: HTTP %d - %s", e.StatusCode, msg)
}

// IsUnauthorized reports whether err is a backend 401.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// ErrorMessage extracts the user-facing message from an error: the backend
// message when err is an *Error, the generic fallback otherwise.
func ErrorMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return genericMessage
}
